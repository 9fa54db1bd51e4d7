// Package enrollment reads bulk enrollment files for the students import command.
package enrollment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"gopkg.in/yaml.v3"
)

// File is one class roster to enroll.
//
//	subject: MATH
//	section: A
//	students:
//	  - name: Alice Novak
//	    roll_number: "01"
//	    image: photos/alice.jpg
//	  - name: Bob Svoboda
//	    roll_number: "02"
//	    descriptor: [0.01, 0.2, ...]
type File struct {
	Subject  string  `yaml:"subject"`
	Section  string  `yaml:"section"`
	Students []Entry `yaml:"students"`
}

// Entry is one student. Image paths are relative to the import file.
type Entry struct {
	Name       string    `yaml:"name"`
	RollNumber string    `yaml:"roll_number"`
	Descriptor []float32 `yaml:"descriptor,omitempty"`
	Image      string    `yaml:"image,omitempty"`
}

// Parse decodes and validates an import file. Subject and section are
// normalized the same way the API normalizes them.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid import file: %w", err)
	}

	f.Subject = attendance.NormalizeLabel(f.Subject)
	f.Section = attendance.NormalizeLabel(f.Section)
	if f.Subject == "" || f.Section == "" {
		return nil, errors.New("import file needs subject and section")
	}
	if len(f.Students) == 0 {
		return nil, errors.New("import file lists no students")
	}

	seen := make(map[string]int, len(f.Students))
	var problems []string
	for i := range f.Students {
		e := &f.Students[i]
		e.Name = strings.TrimSpace(e.Name)
		e.RollNumber = strings.TrimSpace(e.RollNumber)
		switch {
		case e.Name == "":
			problems = append(problems, fmt.Sprintf("student %d: name is required", i+1))
		case e.RollNumber == "":
			problems = append(problems, fmt.Sprintf("student %d (%s): roll_number is required", i+1, e.Name))
		case e.Image != "" && len(e.Descriptor) > 0:
			problems = append(problems, fmt.Sprintf("student %d (%s): set either image or descriptor", i+1, e.Name))
		}
		if prev, ok := seen[e.RollNumber]; ok && e.RollNumber != "" {
			problems = append(problems, fmt.Sprintf("student %d: roll number %s repeats student %d", i+1, e.RollNumber, prev))
		}
		seen[e.RollNumber] = i + 1
	}
	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return &f, nil
}
