package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/vision"
)

var distanceCmd = &cobra.Command{
	Use:   "distance <image-a> <image-b>",
	Short: "Compare the faces in two images",
	Long: `Extract one face embedding from each image and print the distances between
them. Use this to calibrate recognition.threshold: the same person should
land below it, different people above it.

Examples:
  visagectl distance me-1.jpg me-2.jpg
  visagectl distance me.jpg you.jpg --json`,
	Args: cobra.ExactArgs(2),
	RunE: runDistance,
}

func init() {
	rootCmd.AddCommand(distanceCmd)
	distanceCmd.Flags().Bool("json", false, "Output as JSON")
}

type distanceResult struct {
	L2           float64 `json:"l2"`
	Cosine       float64 `json:"cosine"`
	NormalizedL2 float64 `json:"normalized_l2"`
	Threshold    float64 `json:"threshold"`
	Match        bool    `json:"match"`
}

func compareVectors(a, b []float32, threshold float64) distanceResult {
	l2 := identity.L2Distance(a, b)
	return distanceResult{
		L2:           l2,
		Cosine:       identity.CosineDistance(a, b),
		NormalizedL2: identity.L2Distance(identity.Normalize(a), identity.Normalize(b)),
		Threshold:    threshold,
		Match:        identity.IsMatch(l2, threshold),
	}
}

func runDistance(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := vision.InitRuntime(cfg.Vision.OnnxLibPath); err != nil {
		return err
	}
	defer vision.DestroyRuntime()

	x, err := vision.NewExtractor(cfg.Vision, cfg.Database.EmbeddingDim)
	if err != nil {
		return err
	}
	defer x.Close()

	ctx := context.Background()
	vectors := make([][]float32, len(args))
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		det, err := x.Extract(ctx, data)
		if errors.Is(err, identity.ErrNoFaceDetected) {
			return fmt.Errorf("%s: no face detected", path)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		vectors[i] = det.Vector
	}

	res := compareVectors(vectors[0], vectors[1], cfg.Recognition.Threshold)
	if mustGetBool(cmd, "json") {
		return outputJSON(res)
	}
	fmt.Printf("L2 distance:            %.4f\n", res.L2)
	fmt.Printf("cosine distance:        %.4f\n", res.Cosine)
	fmt.Printf("normalized L2 distance: %.4f\n", res.NormalizedL2)
	verdict := "different people"
	if res.Match {
		verdict = "same person"
	}
	fmt.Printf("threshold %.2f:         %s\n", res.Threshold, verdict)
	return nil
}
