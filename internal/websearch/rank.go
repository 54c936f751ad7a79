package websearch

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var blockedHosts = map[string]struct{}{
	"localhost":                {},
	"localhost.localdomain":    {},
	"metadata":                 {},
	"metadata.google.internal": {},
	"metadata.aws.internal":    {},
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// rank drops non-web and internal hosts, then orders results by score (stable).
func rank(query string, items []ResultItem, preferred []string) []ResultItem {
	type scored struct {
		item  ResultItem
		score int
	}
	var tokens []string
	for _, tok := range tokenSplit.Split(strings.ToLower(query), -1) {
		if len(tok) >= 4 {
			tokens = append(tokens, tok)
		}
	}

	list := make([]scored, 0, len(items))
	for _, it := range items {
		u, err := url.Parse(it.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
		if host == "" || strings.HasSuffix(host, ".local") {
			continue
		}
		if _, blocked := blockedHosts[host]; blocked {
			continue
		}
		list = append(list, scored{item: it, score: score(host, it, tokens, preferred)})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })

	out := make([]ResultItem, 0, len(list))
	for _, s := range list {
		out = append(out, s.item)
	}
	return out
}

func score(host string, it ResultItem, tokens []string, preferred []string) int {
	n := 0
	for _, d := range preferred {
		if host == d || strings.HasSuffix(host, "."+d) {
			n += 100
			break
		}
	}
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") {
		n += 35
	}
	hay := host + " " + strings.ToLower(it.Title) + " " + strings.ToLower(it.Snippet)
	for _, tok := range tokens {
		if strings.Contains(hay, tok) {
			n++
		}
	}
	return n
}
