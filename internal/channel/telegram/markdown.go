package telegram

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/go-telegram/bot/models"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

const markdownExtensions = parser.CommonExtensions | parser.NoEmptyLineBeforeBlock |
	parser.Strikethrough | parser.FencedCode | parser.Autolink

// toEntities renders markdown as plain text plus Telegram message entities,
// so replies never fail on unbalanced MarkdownV2 escapes.
func toEntities(md string) (string, []models.MessageEntity) {
	if md == "" {
		return "", nil
	}
	doc := parser.NewWithExtensions(markdownExtensions).Parse([]byte(md))

	var r entityRenderer
	r.node(doc)
	sort.SliceStable(r.entities, func(i, j int) bool {
		if r.entities[i].Offset != r.entities[j].Offset {
			return r.entities[i].Offset < r.entities[j].Offset
		}
		return r.entities[i].Length > r.entities[j].Length
	})
	return strings.TrimRight(r.text.String(), "\n"), r.entities
}

// entityRenderer tracks the output offset in UTF-16 code units, which is
// how Telegram measures entity offsets.
type entityRenderer struct {
	text     strings.Builder
	offset   int
	entities []models.MessageEntity
}

func (r *entityRenderer) write(s string) {
	r.text.WriteString(s)
	r.offset += len(utf16.Encode([]rune(s)))
}

func (r *entityRenderer) wrap(t models.MessageEntityType, node ast.Node, mutate func(*models.MessageEntity)) {
	start := r.offset
	r.children(node)
	if r.offset == start {
		return
	}
	e := models.MessageEntity{Type: t, Offset: start, Length: r.offset - start}
	if mutate != nil {
		mutate(&e)
	}
	r.entities = append(r.entities, e)
}

func (r *entityRenderer) children(node ast.Node) {
	for _, child := range node.GetChildren() {
		r.node(child)
	}
}

func (r *entityRenderer) blockEnd(node ast.Node) {
	if ast.GetNextNode(node) == nil {
		return
	}
	if _, inItem := node.GetParent().(*ast.ListItem); inItem {
		r.write("\n")
		return
	}
	r.write("\n\n")
}

func (r *entityRenderer) node(node ast.Node) {
	switch n := node.(type) {
	case *ast.Document:
		r.children(n)
	case *ast.Paragraph:
		r.children(n)
		r.blockEnd(n)
	case *ast.Heading:
		r.wrap(models.MessageEntityTypeBold, n, nil)
		r.blockEnd(n)
	case *ast.BlockQuote:
		r.wrap(models.MessageEntityTypeBlockquote, n, nil)
		r.blockEnd(n)
	case *ast.List:
		r.list(n)
		r.blockEnd(n)
	case *ast.Strong:
		r.wrap(models.MessageEntityTypeBold, n, nil)
	case *ast.Emph:
		r.wrap(models.MessageEntityTypeItalic, n, nil)
	case *ast.Del:
		r.wrap(models.MessageEntityTypeStrikethrough, n, nil)
	case *ast.Code:
		r.literal(models.MessageEntityTypeCode, string(n.Literal), "")
	case *ast.CodeBlock:
		lang := ""
		if f := strings.Fields(string(n.Info)); len(f) > 0 {
			lang = f[0]
		}
		r.literal(models.MessageEntityTypePre, strings.TrimRight(string(n.Literal), "\n"), lang)
		r.blockEnd(n)
	case *ast.Link:
		dest := string(n.Destination)
		start := r.offset
		r.wrap(models.MessageEntityTypeTextLink, n, func(e *models.MessageEntity) { e.URL = dest })
		if r.offset == start {
			r.write(dest)
		}
	case *ast.Text:
		r.write(string(n.Literal))
	case *ast.Softbreak, *ast.Hardbreak:
		r.write("\n")
	case *ast.HorizontalRule:
		r.write("----------")
		r.blockEnd(n)
	default:
		if len(node.GetChildren()) > 0 {
			r.children(node)
			return
		}
		if leaf := node.AsLeaf(); leaf != nil {
			r.write(string(leaf.Literal))
		}
	}
}

func (r *entityRenderer) literal(t models.MessageEntityType, s, lang string) {
	if s == "" {
		return
	}
	start := r.offset
	r.write(s)
	r.entities = append(r.entities, models.MessageEntity{Type: t, Offset: start, Length: r.offset - start, Language: lang})
}

func (r *entityRenderer) list(list *ast.List) {
	ordered := list.ListFlags&ast.ListTypeOrdered != 0
	index := max(list.Start, 1)

	items := list.GetChildren()
	for i, child := range items {
		item, ok := child.(*ast.ListItem)
		if !ok {
			continue
		}
		if ordered {
			r.write(strconv.Itoa(index) + ". ")
			index++
		} else {
			r.write("- ")
		}
		for j, part := range item.GetChildren() {
			if p, isPara := part.(*ast.Paragraph); isPara {
				r.children(p)
			} else {
				r.node(part)
			}
			if j < len(item.GetChildren())-1 {
				r.write("\n")
			}
		}
		if i < len(items)-1 {
			r.write("\n")
		}
	}
}
