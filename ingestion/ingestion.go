// Package ingestion loads YAML course packs from a local content
// directory. Each pack is one course with its pages and sections; code
// sections are normalized to the canonical shape on the way in, so legacy
// single-language packs remain loadable.
package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"codelab-server/catalog"
	"codelab-server/content"
	"codelab-server/logger"
	"codelab-server/models"
)

// CoursePack is the YAML layout of one course pack file.
type CoursePack struct {
	Course struct {
		ID           string  `yaml:"id"`
		Title        string  `yaml:"title"`
		Description  string  `yaml:"description"`
		ThumbnailURL *string `yaml:"thumbnail_url"`
		Price        int     `yaml:"price"`
		Published    bool    `yaml:"published"`
	} `yaml:"course"`
	Pages []PagePack `yaml:"pages"`
}

// PagePack is one page within a course pack.
type PagePack struct {
	ID       string        `yaml:"id"`
	Title    string        `yaml:"title"`
	Sections []SectionPack `yaml:"sections"`
}

// SectionPack is one section within a page pack.
type SectionPack struct {
	ID      string         `yaml:"id"`
	Type    string         `yaml:"type"`
	Content map[string]any `yaml:"content"`
}

// ProcessContentPacks scans packsPath for *.yaml course packs and upserts
// each one. Returns the number of courses loaded.
func ProcessContentPacks(pool *pgxpool.Pool, packsPath string, log *logger.Logger) (int, error) {
	entries, err := os.ReadDir(packsPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read content packs directory %s: %w", packsPath, err)
	}

	store := catalog.NewPostgresStore(pool)
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		packPath := filepath.Join(packsPath, entry.Name())
		if err := processPack(store, packPath, log); err != nil {
			return loaded, fmt.Errorf("failed to process pack %s: %w", entry.Name(), err)
		}
		loaded++
	}
	return loaded, nil
}

func processPack(store catalog.Store, packPath string, log *logger.Logger) error {
	data, err := os.ReadFile(packPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", packPath, err)
	}

	var pack CoursePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return fmt.Errorf("failed to parse %s: %w", packPath, err)
	}
	if pack.Course.ID == "" || pack.Course.Title == "" {
		return fmt.Errorf("pack %s is missing course.id or course.title", packPath)
	}

	ctx := context.Background()
	course := models.Course{
		ID:           pack.Course.ID,
		Title:        pack.Course.Title,
		Description:  pack.Course.Description,
		ThumbnailURL: pack.Course.ThumbnailURL,
		Price:        pack.Course.Price,
		IsPublished:  pack.Course.Published,
	}
	existing, err := store.GetCourse(ctx, course.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := store.CreateCourse(ctx, &course); err != nil {
			return err
		}
	} else {
		if err := store.UpdateCourse(ctx, &course); err != nil {
			return err
		}
	}

	for i, pagePack := range pack.Pages {
		// Packs without explicit ids get deterministic ones so re-ingestion
		// updates pages instead of duplicating them.
		if pagePack.ID == "" {
			pagePack.ID = fmt.Sprintf("%s-page-%d", course.ID, i)
		}
		page := models.CoursePage{
			ID:         pagePack.ID,
			CourseID:   course.ID,
			Title:      pagePack.Title,
			OrderIndex: i,
		}
		sections := make([]models.PageSection, 0, len(pagePack.Sections))
		for j, secPack := range pagePack.Sections {
			sec := models.PageSection{
				ID:         secPack.ID,
				Type:       models.SectionType(secPack.Type),
				OrderIndex: j,
				Content:    secPack.Content,
			}
			switch sec.Type {
			case models.SectionText, models.SectionImage, models.SectionMCQ:
			case models.SectionCode:
				sec.Content = content.ToMap(content.Normalize(secPack.Content))
			default:
				return fmt.Errorf("pack %s page %q has unknown section type %q", packPath, pagePack.Title, secPack.Type)
			}
			sections = append(sections, sec)
		}
		if err := store.UpsertPage(ctx, page, sections); err != nil {
			return err
		}
	}

	log.Info("loaded course pack", "course_id", course.ID, "pages", len(pack.Pages))
	return nil
}
