package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stemsi/exstem-mocktest/internal/model"
	"gopkg.in/yaml.v3"
)

// paperFile is the on-disk YAML layout of a paper.
type paperFile struct {
	model.TestDefinition `yaml:",inline"`
	// DefaultMarking applies to questions that declare no marking of their own.
	DefaultMarking *model.MarkingScheme `yaml:"default_marking"`
}

// FileLoader reads papers from YAML files laid out as <dir>/<exam_type>/<paper_id>.yaml.
type FileLoader struct {
	dir string
}

// NewFileLoader creates a new FileLoader rooted at dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir}
}

// LoadTestDefinition reads and validates one paper file.
func (l *FileLoader) LoadTestDefinition(_ context.Context, examType, paperID string) (*model.TestDefinition, error) {
	if !safeSegment(examType) || !safeSegment(paperID) {
		return nil, model.ErrDefinitionNotFound
	}

	base := filepath.Join(l.dir, examType, paperID)
	for _, ext := range []string{".yaml", ".yml"} {
		def, err := LoadPaperFile(base + ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if def.ExamType != examType || def.PaperID != paperID {
			return nil, fmt.Errorf("%w: %s declares %s/%s", model.ErrInvalidDefinition, base+ext, def.ExamType, def.PaperID)
		}
		return def, nil
	}
	return nil, model.ErrDefinitionNotFound
}

// ListPapers returns the keys of every paper file under the root directory.
func (l *FileLoader) ListPapers(_ context.Context) ([]PaperKey, error) {
	var keys []PaperKey
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPaperFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 2 {
			return nil
		}
		keys = append(keys, PaperKey{
			ExamType: parts[0],
			PaperID:  strings.TrimSuffix(parts[1], filepath.Ext(parts[1])),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk papers dir: %w", err)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ExamType != keys[j].ExamType {
			return keys[i].ExamType < keys[j].ExamType
		}
		return keys[i].PaperID < keys[j].PaperID
	})
	return keys, nil
}

// LoadPaperFile decodes and validates a single YAML paper.
func LoadPaperFile(path string) (*model.TestDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pf paperFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", model.ErrInvalidDefinition, path, err)
	}

	def := pf.TestDefinition
	for i := range def.Questions {
		q := &def.Questions[i]
		q.Type = model.QuestionType(strings.ToUpper(string(q.Type)))
		if pf.DefaultMarking != nil && q.Marking == (model.MarkingScheme{}) {
			q.Marking = *pf.DefaultMarking
		}
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &def, nil
}

func isPaperFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
