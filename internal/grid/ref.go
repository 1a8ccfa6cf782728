package grid

import "fmt"

type RefKind uint8

const (
	RefDefault RefKind = iota
	RefGroup
	RefInline
)

func (k RefKind) String() string {
	switch k {
	case RefGroup:
		return "group"
	case RefInline:
		return "inline"
	default:
		return "default"
	}
}

// Ref says where a band's grid comes from: the dataset default, a named grid
// group, or an inline override.
type Ref struct {
	Kind   RefKind
	Group  string
	Inline PixelGrid
}

func DefaultRef() Ref { return Ref{Kind: RefDefault} }
func GroupRef(name string) Ref { return Ref{Kind: RefGroup, Group: name} }
func InlineRef(g PixelGrid) Ref { return Ref{Kind: RefInline, Inline: g} }

func (r Ref) String() string {
	switch r.Kind {
	case RefGroup:
		return fmt.Sprintf("group(%s)", r.Group)
	case RefInline:
		return "inline"
	default:
		return "default"
	}
}
