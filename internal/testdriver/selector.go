package testdriver

import (
	"strings"

	"golang.org/x/net/html"
)

// compoundSelector is one space-separated piece of a descendant selector:
// an optional tag name, zero or more ".class" filters, and zero or more
// "[attr]" / "[attr=value]" filters. No CSS combinator library ships in the
// reference corpus, so this hand-rolled matcher covers exactly the subset
// the core's locators need.
type compoundSelector struct {
	tag     string
	classes []string
	attrs   map[string]*string // nil value means "attribute present"
}

func parseSelector(sel string) []compoundSelector {
	parts := strings.Fields(sel)
	out := make([]compoundSelector, 0, len(parts))
	for _, p := range parts {
		out = append(out, parseCompound(p))
	}
	return out
}

func parseCompound(p string) compoundSelector {
	cs := compoundSelector{attrs: make(map[string]*string)}
	for len(p) > 0 {
		switch p[0] {
		case '.':
			end := strings.IndexAny(p[1:], ".[")
			if end == -1 {
				cs.classes = append(cs.classes, p[1:])
				p = ""
			} else {
				cs.classes = append(cs.classes, p[1:end+1])
				p = p[end+1:]
			}
		case '[':
			end := strings.Index(p, "]")
			if end == -1 {
				p = ""
				break
			}
			inner := p[1:end]
			if eq := strings.Index(inner, "="); eq >= 0 {
				val := strings.Trim(inner[eq+1:], `"'`)
				cs.attrs[inner[:eq]] = &val
			} else {
				cs.attrs[inner] = nil
			}
			p = p[end+1:]
		default:
			end := strings.IndexAny(p, ".[")
			if end == -1 {
				cs.tag = p
				p = ""
			} else {
				cs.tag = p[:end]
				p = p[end:]
			}
		}
	}
	return cs
}

func (cs compoundSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if cs.tag != "" && cs.tag != "*" && n.Data != cs.tag {
		return false
	}
	attrMap := attrsOf(n)
	for _, class := range cs.classes {
		classAttr, ok := attrMap["class"]
		if !ok || !hasClass(classAttr, class) {
			return false
		}
	}
	for name, want := range cs.attrs {
		got, ok := attrMap[name]
		if !ok {
			return false
		}
		if want != nil && got != *want {
			return false
		}
	}
	return true
}

func attrsOf(n *html.Node) map[string]string {
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		m[a.Key] = a.Val
	}
	return m
}

func hasClass(classAttr, class string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == class {
			return true
		}
	}
	return false
}

// queryAll finds every descendant of root matching the full descendant
// selector chain.
func queryAll(root *html.Node, sel string) []*html.Node {
	chain := parseSelector(sel)
	if len(chain) == 0 {
		return nil
	}
	candidates := []*html.Node{root}
	for i, cs := range chain {
		var next []*html.Node
		seen := make(map[*html.Node]bool)
		for _, c := range candidates {
			for _, m := range descendants(c, cs) {
				if !seen[m] {
					seen[m] = true
					next = append(next, m)
				}
			}
		}
		candidates = next
		if i == len(chain)-1 {
			return candidates
		}
	}
	return candidates
}

func descendants(root *html.Node, cs compoundSelector) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if cs.matches(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}
