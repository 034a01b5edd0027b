package formatter

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/beevik/etree"

	"github.com/use-agent/harvest/models"
)

// renderXML flattens records into a markup document with one <result>
// element per record. Keys are sorted so output is deterministic, and a
// single record renders identically to a one-element collection.
func renderXML(data *models.StructuredData) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("results")

	for _, item := range data.Items {
		rec := root.CreateElement("result")
		keys := make([]string, 0, len(item))
		for k := range item {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			el := rec.CreateElement(elementName(k))
			el.SetText(cellString(item[k]))
		}
	}

	doc.Indent(2)
	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize xml: %w", err)
	}
	return body, nil
}

// elementName makes an arbitrary record key safe as an XML element name.
func elementName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" {
		return "field"
	}
	if r := rune(name[0]); unicode.IsDigit(r) || r == '-' || r == '.' {
		return "_" + name
	}
	return name
}
