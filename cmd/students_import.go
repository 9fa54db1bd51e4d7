package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Manage enrolled students",
}

var studentsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Enroll a class roster from a YAML file",
	Long: `Enroll the students of one subject and section from a YAML file.

Each student carries either a descriptor or an image path. Images are sent to
the embedding service (EMBEDDING_URL) to compute the descriptor. Students whose
roll number is already enrolled are skipped unless --update is given, in which
case their descriptor is replaced.

Example file:
  subject: MATH
  section: A
  students:
    - name: Alice Novak
      roll_number: "01"
      image: photos/alice.jpg

Examples:
  face-attendance students import class.yaml --faculty jana@school.cz
  face-attendance students import class.yaml --faculty jana@school.cz --update --json`,
	Args: cobra.ExactArgs(1),
	RunE: runStudentsImport,
}

func init() {
	rootCmd.AddCommand(studentsCmd)
	studentsCmd.AddCommand(studentsImportCmd)

	studentsImportCmd.Flags().String("faculty", "", "Email of the faculty member who owns the roster (required)")
	studentsImportCmd.Flags().Bool("update", false, "Replace descriptors of already enrolled students")
	studentsImportCmd.Flags().Bool("json", false, "Output summary as JSON")
}

// ImportSummary reports what an import did
type ImportSummary struct {
	Subject  string   `json:"subject"`
	Section  string   `json:"section"`
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Failures []string `json:"failures,omitempty"`
}

func runStudentsImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	jsonOutput := mustGetBool(cmd, "json")
	update := mustGetBool(cmd, "update")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}
	file, err := enrollment.Parse(data)
	if err != nil {
		return err
	}
	baseDir := filepath.Dir(args[0])

	pool, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	faculty, err := lookupFaculty(ctx, pool, mustGetString(cmd, "faculty"))
	if err != nil {
		return err
	}

	students := postgres.NewStudentRepository(pool)
	existing, err := students.FindRoster(ctx, file.Subject, file.Section, faculty.ID)
	if err != nil {
		return err
	}
	byRoll := make(map[string]string, len(existing))
	for _, s := range existing {
		byRoll[s.RollNumber] = s.ID
	}

	detector := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)
	dim := cfg.DescriptorDim()
	summary := ImportSummary{Subject: file.Subject, Section: file.Section}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(file.Students),
			progressbar.OptionSetDescription("Enrolling "+file.Subject+" "+file.Section),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("students"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	for _, entry := range file.Students {
		result, err := importStudent(ctx, students, detector, faculty.ID, file, entry, baseDir, dim, byRoll, update)
		switch {
		case err != nil:
			summary.Failed++
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s (%s): %v", entry.Name, entry.RollNumber, err))
			slog.Warn("failed to import student", "roll_number", entry.RollNumber, "error", err)
		case result == importCreated:
			summary.Created++
		case result == importUpdated:
			summary.Updated++
		default:
			summary.Skipped++
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("\nCreated: %d, updated: %d, skipped: %d, failed: %d\n",
		summary.Created, summary.Updated, summary.Skipped, summary.Failed)
	for _, f := range summary.Failures {
		fmt.Printf("  - %s\n", f)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d students failed to import", summary.Failed)
	}
	return nil
}

type importResult int

const (
	importSkipped importResult = iota
	importCreated
	importUpdated
)

func importStudent(
	ctx context.Context, students *postgres.StudentRepository, detector *embedding.Client,
	facultyID string, file *enrollment.File, entry enrollment.Entry, baseDir string, dim int,
	byRoll map[string]string, update bool,
) (importResult, error) {
	existingID, enrolled := byRoll[entry.RollNumber]
	if enrolled && !update {
		return importSkipped, nil
	}

	descriptor, err := entryDescriptor(ctx, detector, entry, baseDir)
	if err != nil {
		return importSkipped, err
	}
	if descriptor != nil {
		if err := attendance.ValidateDescriptor(descriptor, dim); err != nil {
			return importSkipped, err
		}
	}

	if enrolled {
		if descriptor == nil {
			return importSkipped, nil
		}
		if err := students.UpdateDescriptor(ctx, existingID, descriptor); err != nil {
			return importSkipped, err
		}
		return importUpdated, nil
	}

	student := &database.StoredStudent{
		FacultyID:  facultyID,
		Name:       entry.Name,
		RollNumber: entry.RollNumber,
		Subject:    file.Subject,
		Section:    file.Section,
		Descriptor: descriptor,
	}
	if err := students.CreateStudent(ctx, student); err != nil {
		if errors.Is(err, database.ErrDuplicateStudent) {
			return importSkipped, nil
		}
		return importSkipped, err
	}
	byRoll[student.RollNumber] = student.ID
	return importCreated, nil
}

// entryDescriptor returns the inline descriptor or computes one from the image; nil when neither is set
func entryDescriptor(ctx context.Context, detector *embedding.Client, entry enrollment.Entry, baseDir string) ([]float32, error) {
	if len(entry.Descriptor) > 0 {
		return entry.Descriptor, nil
	}
	if entry.Image == "" {
		return nil, nil
	}

	path := entry.Image
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	descriptor, err := detector.DetectFace(ctx, image)
	if errors.Is(err, embedding.ErrNoFace) {
		return nil, fmt.Errorf("no face found in %s", entry.Image)
	}
	return descriptor, err
}
