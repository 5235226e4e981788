package app

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"leilaochat/internal/model"
)

// titleCategory pairs a category label with the keywords that select it.
// Declaration order matters: the first category with a matching token
// wins, regardless of where the token appears in the text.
type titleCategory struct {
	name     string
	keywords []string
}

var titleCategories = []titleCategory{
	{"análise", []string{"analise", "analisar", "análise", "examinar", "avaliar"}},
	{"resumo", []string{"resumir", "resumo", "sintetizar", "síntese"}},
	{"explicação", []string{"explicar", "explique", "como", "definir"}},
	{"tradução", []string{"traduzir", "tradução", "translate"}},
	{"código", []string{"codigo", "código", "programar", "script", "função"}},
	{"texto", []string{"escrever", "redação", "texto", "artigo"}},
	{"cálculo", []string{"calcular", "matemática", "equação", "formula"}},
	{"email", []string{"email", "carta", "mensagem"}},
	{"relatório", []string{"relatório", "relatorio", "report"}},
	{"apresentação", []string{"apresentação", "slide", "powerpoint"}},
	{"pesquisa", []string{"pesquisar", "buscar", "encontrar"}},
	{"comparação", []string{"comparar", "diferença", "versus", "vs"}},
	{"dúvida", []string{"dúvida", "duvida", "pergunta", "questão"}},
	{"ajuda", []string{"ajuda", "socorro", "help", "auxilio"}},
	{"edital", []string{"edital", "licitação", "licitacao", "concurso"}},
	{"contrato", []string{"contrato", "acordo", "termo"}},
	{"imagem", []string{"imagem", "foto", "figura", "picture"}},
	{"documento", []string{"documento", "pdf", "arquivo", "doc"}},
}

var titleStopWords = map[string]struct{}{
	"para": {}, "com": {}, "sobre": {}, "por": {}, "em": {}, "de": {},
	"da": {}, "do": {}, "das": {}, "dos": {}, "que": {}, "qual": {},
	"como": {}, "quando": {}, "onde": {}, "porque": {}, "este": {},
	"esta": {}, "isso": {}, "aquilo": {}, "muito": {}, "mais": {},
	"menos": {}, "melhor": {}, "pior": {}, "favor": {}, "pode": {},
	"consegue": {}, "gostaria": {}, "preciso": {}, "quero": {},
}

const titleMaxRunes = 30

// DeriveTitle synthesizes a short conversation title from the first user
// message. Deterministic for a given input; never returns an empty
// string; the result is at most 30 runes. Safe for concurrent callers:
// a cases.Caser is stateful, so one is built per call instead of shared.
func DeriveTitle(text string) string {
	tokens := tokenizeTitleInput(text)
	if len(tokens) == 0 {
		return model.DefaultConversationTitle
	}
	titleCaser := cases.Title(language.BrazilianPortuguese)

	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}

	category := ""
	for _, c := range titleCategories {
		for _, keyword := range c.keywords {
			if _, ok := tokenSet[keyword]; ok {
				category = c.name
				break
			}
		}
		if category != "" {
			break
		}
	}

	var important []string
	for _, t := range tokens {
		if len([]rune(t)) <= 3 {
			continue
		}
		if _, stop := titleStopWords[t]; stop {
			continue
		}
		important = append(important, t)
	}

	var title string
	switch {
	case category != "" && len(important) > 0:
		title = titleCaser.String(category + " " + important[0])
	case category != "":
		title = titleCaser.String(category)
	case len(important) > 0:
		end := len(important)
		if end > 2 {
			end = 2
		}
		title = titleCaser.String(strings.Join(important[:end], " "))
	default:
		end := len(tokens)
		if end > 3 {
			end = 3
		}
		title = titleCaser.String(strings.Join(tokens[:end], " "))
	}

	title = strings.TrimSpace(truncateRunes(title, titleMaxRunes))
	if title == "" {
		return model.DefaultConversationTitle
	}
	return title
}

// tokenizeTitleInput lowercases, drops punctuation and splits on spaces.
func tokenizeTitleInput(text string) []string {
	var cleaned strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			cleaned.WriteRune(r)
		case unicode.IsSpace(r):
			cleaned.WriteRune(' ')
		}
	}
	return strings.Fields(cleaned.String())
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
