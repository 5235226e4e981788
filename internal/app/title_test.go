package app

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"leilaochat/internal/model"
)

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "category plus first important word",
			input: "Como calcular juros compostos",
			want:  "Explicação Calcular",
		},
		{
			name:  "keyword earlier in the table wins over a later category",
			input: "Explique o edital de licitação",
			want:  "Explicação Explique",
		},
		{
			name:  "edital category on its own keywords",
			input: "Preciso do concurso publicado ontem",
			want:  "Edital Concurso",
		},
		{
			name:  "category without important words",
			input: "como?",
			want:  "Explicação",
		},
		{
			name:  "no category takes the first two important words",
			input: "banana amarela madura no cacho",
			want:  "Banana Amarela",
		},
		{
			name:  "only short tokens fall back to the first three",
			input: "oi tá aí e lá",
			want:  "Oi Tá Aí",
		},
		{
			name:  "empty input",
			input: "",
			want:  model.DefaultConversationTitle,
		},
		{
			name:  "punctuation only",
			input: "!!! ??? ...",
			want:  model.DefaultConversationTitle,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveTitle(tc.input)
			if got != tc.want {
				t.Fatalf("DeriveTitle(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestDeriveTitleNeverEmptyAndBounded(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"a",
		strings.Repeat("palavrão", 20),
		"Analise o contrato de prestação de serviços continuados da prefeitura",
		"如何写一份简历",
	}
	for _, input := range inputs {
		got := DeriveTitle(input)
		if got == "" {
			t.Fatalf("DeriveTitle(%q) returned empty title", input)
		}
		if n := utf8.RuneCountInString(got); n > 30 {
			t.Fatalf("DeriveTitle(%q) = %q (%d runes), want at most 30", input, got, n)
		}
	}
}

func TestDeriveTitleConcurrentCallers(t *testing.T) {
	inputs := map[string]string{
		"Como calcular juros compostos":  "Explicação Calcular",
		"Explique o edital de licitação": "Explicação Explique",
		"banana amarela madura no cacho": "Banana Amarela",
		"":                               model.DefaultConversationTitle,
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				for input, want := range inputs {
					if got := DeriveTitle(input); got != want {
						t.Errorf("DeriveTitle(%q) = %q, want %q", input, got, want)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestDeriveTitleDeterministic(t *testing.T) {
	input := "Resumo do edital de licitação da prefeitura"
	first := DeriveTitle(input)
	for i := 0; i < 5; i++ {
		if got := DeriveTitle(input); got != first {
			t.Fatalf("DeriveTitle not deterministic: %q then %q", first, got)
		}
	}
}
