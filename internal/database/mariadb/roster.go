package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-attendance/internal/database"
)

var _ database.RosterReader = (*Pool)(nil)

// FindRoster returns the students enrolled in a subject/section, ordered by roll number.
//
// The SIS keeps descriptors in face_descriptor_json either as a flat JSON list or
// wrapped in a list of lists; only the first vector is used. Rows with unreadable
// descriptors are kept without one, rows missing required fields are skipped.
func (p *Pool) FindRoster(ctx context.Context, subject, section, facultyID string) ([]database.StoredStudent, error) {
	query := `
		SELECT s.student_uid, s.full_name, s.roll_number, s.face_descriptor_json, e.enrolled_at
		FROM enrollments e
		JOIN students s ON s.student_uid = e.student_uid
		WHERE e.faculty_uid = ? AND e.subject = ? AND e.section = ?
		ORDER BY s.roll_number, s.student_uid`

	rows, err := p.db.QueryContext(ctx, query, facultyID, subject, section)
	if err != nil {
		return nil, fmt.Errorf("find roster: %w", err)
	}
	defer rows.Close()

	var roster []database.StoredStudent
	for rows.Next() {
		var (
			st         database.StoredStudent
			descriptor []byte
			enrolledAt sql.NullTime
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.RollNumber, &descriptor, &enrolledAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		st.FacultyID = facultyID
		st.Subject = subject
		st.Section = section
		if enrolledAt.Valid {
			st.CreatedAt = enrolledAt.Time
		}

		if err := st.Validate(); err != nil {
			slog.Warn("skipping invalid SIS roster row", "subject", subject, "section", section, "error", err)
			continue
		}
		if st.Descriptor, err = decodeDescriptor(descriptor); err != nil {
			slog.Warn("ignoring unreadable SIS descriptor", "student_id", st.ID, "error", err)
		}
		roster = append(roster, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return roster, nil
}

// decodeDescriptor parses [e1, e2, ...] or [[e1, e2, ...], ...]. Empty input yields nil.
func decodeDescriptor(data []byte) ([]float32, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var flat []float32
	if err := json.Unmarshal(data, &flat); err == nil {
		return nonEmpty(flat), nil
	}

	var nested [][]float32
	if err := json.Unmarshal(data, &nested); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	if len(nested) == 0 {
		return nil, nil
	}
	return nonEmpty(nested[0]), nil
}

func nonEmpty(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	return v
}
