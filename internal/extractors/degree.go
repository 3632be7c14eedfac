package extractors

import (
	"strings"
	"unicode"
)

// 学位等级对应的教育年限，pursuing 时取第二个值
type degreeLevel struct {
	name      string
	completed float64
	pursuing  float64
	terms     []string
}

var degreeLevels = []degreeLevel{
	{"phd", 8, 7, []string{
		"phd", "doctorate", "doctor of", "ph.d", "ph d", "d.phil", "dphil",
		"doctoral", "sc.d", "dr.", "doktor", "philosophy", "philosophiae",
	}},
	{"master", 6, 3, []string{
		"master", "masters", "ms", "ma", "mba", "msc", "m.sc", "m.s.", "m.a.", "m.eng", "meng",
		"m.ed", "med", "m.phil", "mphil", "m.res", "mres", "m.st", "mst", "magister",
		"m.arch", "march", "m.tech", "mtech", "llm", "ll.m", "macc", "m.acc", "mfin", "m.fin",
		"mpa", "m.p.a", "mpp", "m.p.p", "msw", "m.s.w", "mls", "m.l.s", "msn", "m.s.n",
	}},
	{"bachelor", 4, 2, []string{
		"bachelor", "bachelors", "bs", "ba", "bsc", "b.sc", "b.s.", "b.a.", "b.e.", "be",
		"b.tech", "btech", "b.eng", "beng", "b.arch", "barch", "b.com", "bcom",
		"bfa", "b.f.a.", "b.b.a", "bba", "ll.b", "llb", "b.ed", "bed", "b.n", "bn",
		"b.nurs", "b nursing", "bsn", "b.s.n", "bsw", "b.s.w", "undergraduate",
		"laurea", "licenciatura", "bmus", "b.mus", "bsc hons", "b.sc. hons",
	}},
	{"associate", 2, 1, []string{
		"associate", "associates", "associate's", "as", "aa", "a.s.", "a.a.", "a.a.s.",
		"aas", "a.e.", "ae", "a.e.t", "aet", "a.b.a", "aba", "a.s.n", "asn",
		"foundation degree", "higher national diploma", "hnd", "two-year degree",
		"a.a.b", "aab", "a.g.s", "ags",
	}},
	{"diploma", 1, 0.5, []string{
		"diploma", "certificate", "online", "certification", "cert", "bootcamp",
		"professional certification", "prof cert", "nanodegree", "microdegree",
		"post-graduate diploma", "post graduate diploma", "pgd", "p.g.d.", "short course",
		"graduate diploma", "grad diploma", "grad dip", "grad.dip.", "technical diploma",
		"vocational certificate", "apprenticeship", "trade certificate", "tech cert",
	}},
}

// DegreeYears 把 education_stats 的最高学位映射为教育年限。
// highest_degree 缺失或为空时返回 ok=false。
func DegreeYears(stats map[string]any) (years float64, level string, ok bool) {
	if stats == nil {
		return 0, "", false
	}
	raw, exists := stats["highest_degree"]
	if !exists {
		return 0, "", false
	}
	degree := strings.ToLower(strings.TrimSpace(stringValue(raw)))
	if degree == "" {
		return 0, "", false
	}
	status := strings.ToLower(strings.TrimSpace(stringValue(stats["highest_degree_status"])))
	pursuing := status == "pursuing"

	pick := func(l degreeLevel) float64 {
		if pursuing {
			return l.pursuing
		}
		return l.completed
	}

	for _, l := range degreeLevels {
		for _, term := range l.terms {
			if containsTerm(degree, term) {
				return pick(l), l.name, true
			}
		}
	}

	// 只写了 engineering 的一般是本科
	if strings.Contains(degree, "engineer") &&
		!strings.Contains(degree, "master") && !strings.Contains(degree, "phd") && !strings.Contains(degree, "doctor") {
		return pick(degreeLevels[2]), "bachelor", true
	}
	return pick(degreeLevels[4]), "unknown", true
}

// containsTerm term 在 s 中出现且两侧不是字母数字，避免 "ms" 命中 "systems"
func containsTerm(s, term string) bool {
	for from := 0; from <= len(s)-len(term); {
		i := strings.Index(s[from:], term)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(term)
		if boundary(s, i-1) && boundary(s, end) {
			return true
		}
		from = i + 1
	}
	return false
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
