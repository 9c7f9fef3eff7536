package paging

// Scene receives attachment and visibility changes from the manager. All
// calls happen on the goroutine driving Manager.Update.
type Scene interface {
	SetNodes(page *Page, block *Block)
	SetVisible(page *Page, block *Block, level int, visible bool, fade float64)
	Detach(page *Page)
}

// NopScene ignores every call.
type NopScene struct{}

func (NopScene) SetNodes(*Page, *Block)                       {}
func (NopScene) SetVisible(*Page, *Block, int, bool, float64) {}
func (NopScene) Detach(*Page)                                 {}
