package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var facultyCmd = &cobra.Command{
	Use:   "faculty",
	Short: "Manage faculty accounts",
}

var facultyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a faculty account",
	Long: `Create a faculty account that can log in to the API.

The password is read from --password or the FACULTY_PASSWORD environment variable.

Examples:
  face-attendance faculty add --email jana@school.cz --name "Jana Novakova" --password s3cret`,
	RunE: runFacultyAdd,
}

func init() {
	rootCmd.AddCommand(facultyCmd)
	facultyCmd.AddCommand(facultyAddCmd)

	facultyAddCmd.Flags().String("email", "", "Login email (required)")
	facultyAddCmd.Flags().String("name", "", "Display name (required)")
	facultyAddCmd.Flags().String("password", "", "Password (defaults to FACULTY_PASSWORD)")
}

const minPasswordLength = 8

func runFacultyAdd(cmd *cobra.Command, args []string) error {
	email := strings.TrimSpace(mustGetString(cmd, "email"))
	name := strings.TrimSpace(mustGetString(cmd, "name"))
	password := mustGetString(cmd, "password")
	if password == "" {
		password = os.Getenv("FACULTY_PASSWORD")
	}

	if email == "" || name == "" {
		return errors.New("--email and --name are required")
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must have at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	ctx := context.Background()
	pool, err := openDatabase(ctx, config.Load())
	if err != nil {
		return err
	}
	defer pool.Close()

	faculty := &database.StoredFaculty{Email: email, Name: name, PasswordHash: string(hash)}
	if err := postgres.NewFacultyRepository(pool).CreateFaculty(ctx, faculty); err != nil {
		if errors.Is(err, database.ErrDuplicateFaculty) {
			return fmt.Errorf("an account for %s already exists", email)
		}
		return err
	}

	fmt.Printf("Created faculty account %s (%s)\n", faculty.Email, faculty.ID)
	return nil
}

// lookupFaculty resolves the owner of rosters for CLI commands
func lookupFaculty(ctx context.Context, pool *postgres.Pool, email string) (*database.StoredFaculty, error) {
	if strings.TrimSpace(email) == "" {
		return nil, errors.New("--faculty email is required")
	}
	f, err := postgres.NewFacultyRepository(pool).GetFacultyByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("no faculty account for %s, create one with 'faculty add'", email)
	}
	return f, err
}
