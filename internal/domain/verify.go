package domain

import (
	"strings"

	"golang.org/x/net/html"
)

// VerifyTargetInSource reports whether the document contains an anchor whose
// href equals target exactly. No normalization is applied: trailing slashes,
// case, and query order all have to match. Malformed HTML yields a
// best-effort parse and at worst a false result, never an error.
func VerifyTargetInSource(doc *Document, target string) bool {
	root, err := html.Parse(strings.NewReader(doc.Body))
	if err != nil {
		return false
	}

	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if strings.EqualFold(a.Key, "href") && a.Val == target {
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}

	return walk(root)
}
