package sources

import (
	"context"
	"time"

	"fundingai-pipeline/internal/models"
)

// StaticSource serves fixture postings for development and demos, where no
// live portal or API is reachable.
type StaticSource struct {
	name     string
	postings []models.RawPosting
}

func NewStaticSource(name string, postings []models.RawPosting) *StaticSource {
	return &StaticSource{name: name, postings: postings}
}

func (source *StaticSource) Name() string {
	return source.name
}

func (source *StaticSource) FetchRaw(ctx context.Context, since time.Time) ([]models.RawPosting, error) {
	out := make([]models.RawPosting, len(source.postings))
	copy(out, source.postings)
	for i := range out {
		if out[i].Source == "" {
			out[i].Source = source.name
		}
		out[i].CollectedAt = time.Now().UTC()
	}
	return out, nil
}

// FixturePostings mirrors the demo calls the product launched with.
func FixturePostings() []models.RawPosting {
	deadline := time.Now().AddDate(0, 0, 45).Format("2006-01-02")
	bolsaDeadline := time.Now().AddDate(0, 0, 30).Format("2006-01-02")

	return []models.RawPosting{
		{
			SourceID:    "2024_001",
			Source:      "FINEP",
			Title:       "FINEP - Subvenção Econômica para Startups de IA",
			Description: "Programa de apoio financeiro para startups desenvolvedoras de soluções de inteligência artificial com foco em impacto social.",
			Region:      "Brasil",
			Deadline:    deadline,
			Amount:      "R$ 500.000",
			URL:         "https://www.finep.gov.br/chamadas-publicas",
			Tags:        []string{"IA", "Startup", "Inovação", "Subvenção"},
		},
		{
			SourceID:    "2024_002",
			Source:      "CNPq",
			Title:       "CNPq - Bolsa de Desenvolvimento Tecnológico",
			Description: "Bolsa para desenvolvimento de tecnologias disruptivas em healthtech com duração de 24 meses.",
			Region:      "Brasil",
			Deadline:    bolsaDeadline,
			Amount:      "R$ 3.000/mês",
			URL:         "https://www.gov.br/cnpq/pt-br",
			Tags:        []string{"Healthtech", "Bolsa", "P&D"},
		},
		{
			SourceID:    "2024_003",
			Source:      "União Europeia",
			Title:       "Horizonte Europa - Green Deal",
			Description: "Funding para startups europeias focadas em soluções de sustentabilidade e energia limpa.",
			Region:      "Europa",
			Deadline:    time.Now().AddDate(0, 0, 70).Format("2006-01-02"),
			Amount:      "€ 2.000.000",
			URL:         "https://ec.europa.eu/info/horizon-europe_en",
			Tags:        []string{"Sustentabilidade", "Europa", "Green Deal"},
		},
	}
}
