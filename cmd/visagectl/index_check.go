package main

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/visage/internal/index"
	"github.com/your-org/visage/internal/models"
)

var indexCheckCmd = &cobra.Command{
	Use:   "index-check",
	Short: "Measure HNSW recall against an exact scan",
	Long: `Load every stored embedding into an HNSW graph and an exact index, query both
with perturbed copies of stored vectors and report how often they agree on
the nearest neighbor.

Examples:
  visagectl index-check --samples 500
  visagectl index-check --m 32 --ef 200 --json`,
	Args: cobra.NoArgs,
	RunE: runIndexCheck,
}

func init() {
	rootCmd.AddCommand(indexCheckCmd)
	indexCheckCmd.Flags().Int("samples", 200, "Number of queries")
	indexCheckCmd.Flags().Int("m", 0, "HNSW M (default from config)")
	indexCheckCmd.Flags().Int("ef", 0, "HNSW ef_search (default from config)")
	indexCheckCmd.Flags().Bool("json", false, "Output as JSON")
}

type indexCheckResult struct {
	Embeddings int     `json:"embeddings"`
	Samples    int     `json:"samples"`
	Agreements int     `json:"agreements"`
	Recall     float64 `json:"recall"`
}

func runIndexCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	jsonOutput := mustGetBool(cmd, "json")
	m := mustGetInt(cmd, "m")
	if m == 0 {
		m = cfg.Recognition.HNSWM
	}
	ef := mustGetInt(cmd, "ef")
	if ef == 0 {
		ef = cfg.Recognition.HNSWEf
	}

	dim := cfg.Database.EmbeddingDim
	exact, err := index.New(b.Source(), index.Options{Kind: index.KindFlat, Dimension: dim})
	if err != nil {
		return err
	}
	graph, err := index.New(b.Source(), index.Options{Kind: index.KindHNSW, Dimension: dim, M: m, EfSearch: ef})
	if err != nil {
		return err
	}
	for _, idx := range []*index.Index{exact, graph} {
		if err := idx.Load(ctx); err != nil {
			return err
		}
	}

	var queries [][]float32
	err = b.Source().AllEmbeddings(ctx, func(e models.Embedding) error {
		queries = append(queries, e.Vector)
		return nil
	})
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		if jsonOutput {
			return outputJSON(indexCheckResult{})
		}
		fmt.Println("no embeddings stored")
		return nil
	}

	samples := mustGetInt(cmd, "samples")
	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(samples,
			progressbar.OptionSetDescription("Querying"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("queries"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	res := indexCheckResult{Embeddings: len(queries), Samples: samples}
	for range samples {
		q := perturb(queries[rand.IntN(len(queries))], 0.01)
		want, err := exact.FindNearest(ctx, q)
		if err != nil {
			return err
		}
		got, err := graph.FindNearest(ctx, q)
		if err != nil {
			return err
		}
		if want != nil && got != nil && want.EmbeddingID == got.EmbeddingID {
			res.Agreements++
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if samples > 0 {
		res.Recall = float64(res.Agreements) / float64(samples)
	}

	if jsonOutput {
		return outputJSON(res)
	}
	fmt.Printf("\n%d embeddings, %d queries, recall@1 %.3f (M=%d ef=%d)\n",
		res.Embeddings, res.Samples, res.Recall, m, ef)
	return nil
}

func perturb(v []float32, scale float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x + float32(rand.NormFloat64()*scale)
	}
	return out
}
