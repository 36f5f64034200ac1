package playlist

import (
	"bytes"
	"io"
	"net/url"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser takes entries from links to .sid files and from list items
// that name one. The first heading becomes the title.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*Playlist, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	pl := &Playlist{Title: listTitle(filename)}
	titled := false
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if !titled {
				pl.Title = inlineText(node, src)
				titled = true
			}
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			if dest := linkTarget(string(node.Destination)); isSIDName(dest) {
				pl.Entries = append(pl.Entries, Entry{Path: dest})
			}
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if hasNested(node) {
				return ast.WalkContinue, nil
			}
			if t := inlineText(node, src); isSIDName(t) {
				pl.Entries = append(pl.Entries, Entry{Path: t})
				return ast.WalkSkipChildren, nil
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	pl.Entries = dedupe(pl.Entries)
	return pl, nil
}

// inlineText concatenates the text leaves under n.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

// hasNested reports whether a list item holds a sub-list or a link, which
// are handled on their own.
func hasNested(n ast.Node) bool {
	found := false
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && c != n && (c.Kind() == ast.KindList || c.Kind() == ast.KindLink) {
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

func linkTarget(dest string) string {
	if u, err := url.PathUnescape(dest); err == nil {
		return u
	}
	return dest
}
