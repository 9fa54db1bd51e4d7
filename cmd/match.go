package cmd

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match a face against a class roster without recording attendance",
	Long: `Score a face descriptor against every enrolled student of a subject and
section and report the best match. Nothing is written; use this to check
enrollment quality or to tune MATCH_THRESHOLD.

The query is either --descriptor (comma-separated values) or --image, which is
sent to the embedding service.

Examples:
  # Match a captured photo
  face-attendance match --faculty jana@school.cz --subject MATH --section A --image capture.jpg

  # Try a stricter threshold and show the five closest students
  face-attendance match --faculty jana@school.cz --subject MATH --section A --image capture.jpg --threshold 0.5 --top 5`,
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("faculty", "", "Email of the faculty member who owns the roster (required)")
	matchCmd.Flags().String("subject", "", "Subject (required)")
	matchCmd.Flags().String("section", "", "Section (required)")
	matchCmd.Flags().String("descriptor", "", "Query descriptor as comma-separated numbers")
	matchCmd.Flags().String("image", "", "Image file to compute the query descriptor from")
	matchCmd.Flags().Float64("threshold", 0, "Minimum cosine similarity (0 = configured threshold)")
	matchCmd.Flags().Int("top", 3, "Number of closest students to list")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

// ScoredStudent is one roster entry with its similarity to the query
type ScoredStudent struct {
	StudentID  string  `json:"student_id"`
	Name       string  `json:"name"`
	RollNumber string  `json:"roll_number"`
	Similarity float64 `json:"similarity"`
}

// MatchReport is the output of the match command
type MatchReport struct {
	Subject   string          `json:"subject"`
	Section   string          `json:"section"`
	Threshold float64         `json:"threshold"`
	Scanned   int             `json:"scanned"`
	Match     *ScoredStudent  `json:"match,omitempty"`
	Closest   []ScoredStudent `json:"closest"`
}

// parseDescriptor parses "0.1, 0.2,0.3" into a descriptor
func parseDescriptor(s string) ([]float32, error) {
	fields := strings.Split(s, ",")
	out := make([]float32, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("descriptor value %d: %w", i+1, err)
		}
		out = append(out, float32(v))
	}
	return out, nil
}

func queryDescriptor(ctx context.Context, cmd *cobra.Command, cfg *config.Config) ([]float32, error) {
	raw := mustGetString(cmd, "descriptor")
	imagePath := mustGetString(cmd, "image")
	switch {
	case raw != "" && imagePath != "":
		return nil, errors.New("use either --descriptor or --image")
	case raw != "":
		return parseDescriptor(raw)
	case imagePath != "":
		image, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		return embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model).DetectFace(ctx, image)
	default:
		return nil, errors.New("--descriptor or --image is required")
	}
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	subject := attendance.NormalizeLabel(mustGetString(cmd, "subject"))
	section := attendance.NormalizeLabel(mustGetString(cmd, "section"))
	if subject == "" || section == "" {
		return errors.New("--subject and --section are required")
	}
	threshold := mustGetFloat64(cmd, "threshold")
	if threshold <= 0 {
		threshold = cfg.MatchThreshold()
	}

	query, err := queryDescriptor(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	if err := attendance.ValidateDescriptor(query, cfg.DescriptorDim()); err != nil {
		return err
	}

	pool, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	faculty, err := lookupFaculty(ctx, pool, mustGetString(cmd, "faculty"))
	if err != nil {
		return err
	}
	roster, closeRoster, err := resolveRoster(cfg, postgres.NewStudentRepository(pool))
	if err != nil {
		return err
	}
	defer closeRoster()

	students, err := roster.FindRoster(ctx, subject, section, faculty.ID)
	if err != nil {
		return err
	}
	if len(students) == 0 {
		return fmt.Errorf("no students enrolled in %s %s", subject, section)
	}

	candidates := make([]facematch.Candidate, len(students))
	var scored []ScoredStudent
	for i, s := range students {
		candidates[i] = facematch.Candidate{ID: s.ID, Descriptor: s.Descriptor}
		if !s.HasDescriptor() || len(s.Descriptor) != len(query) {
			continue
		}
		scored = append(scored, ScoredStudent{
			StudentID:  s.ID,
			Name:       s.Name,
			RollNumber: s.RollNumber,
			Similarity: facematch.CosineSimilarity(query, s.Descriptor),
		})
	}
	slices.SortStableFunc(scored, func(a, b ScoredStudent) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})

	report := MatchReport{Subject: subject, Section: section, Threshold: threshold, Closest: scored}
	if top := mustGetInt(cmd, "top"); top > 0 && len(report.Closest) > top {
		report.Closest = report.Closest[:top]
	}
	m, ok := facematch.BestMatch(query, candidates, threshold)
	report.Scanned = m.Scanned
	if ok {
		s := students[m.Index]
		report.Match = &ScoredStudent{StudentID: s.ID, Name: s.Name, RollNumber: s.RollNumber, Similarity: m.Confidence}
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if report.Match != nil {
		fmt.Printf("Match: %s (roll %s), similarity %.4f\n", report.Match.Name, report.Match.RollNumber, report.Match.Similarity)
	} else {
		fmt.Printf("No student reaches threshold %.2f\n", threshold)
	}
	fmt.Printf("Scanned %d of %d students\n\n", report.Scanned, len(students))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLL\tNAME\tSIMILARITY")
	for _, s := range report.Closest {
		fmt.Fprintf(w, "%s\t%s\t%.4f\n", s.RollNumber, s.Name, s.Similarity)
	}
	return w.Flush()
}
