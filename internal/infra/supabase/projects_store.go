package supabase

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Projects CRUD via PostgREST
// ============================================================

func (c *Client) CreateProject(ctx context.Context, userID string, in *domain.ProjectInput) (*domain.Project, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateProject")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	row := map[string]any{
		"user_id":         userID,
		"business_name":   in.BusinessName,
		"business_type":   in.BusinessType,
		"target_audience": in.TargetAudience,
		"goals":           in.Goals,
		"budget":          in.Budget,
		"challenges":      in.Challenges,
		"description":     in.Description,
		"is_unlocked":     false,
	}

	var project *domain.Project
	err := c.write(ctx, "projects", func() error {
		body, err := c.doPost(ctx, "projects", row)
		if err != nil {
			return err
		}
		p, err := decodeOne[domain.Project](body)
		if err != nil {
			return fmt.Errorf("decode project: %w", err)
		}
		if p == nil {
			return fmt.Errorf("no result from projects insert")
		}
		project = p
		return nil
	})
	return project, err
}

func (c *Client) ListProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProjects")
	defer span.End()

	var projects []domain.Project
	err := c.read(ctx, "projects", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("projects?user_id=%s&order=updated_at.desc", eq(userID)))
		if err != nil {
			return err
		}
		rows, err := decodeAll[domain.Project](body)
		if err != nil {
			return fmt.Errorf("decode projects: %w", err)
		}
		projects = rows
		return nil
	})
	return projects, err
}

func (c *Client) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProject")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", projectID))

	var project *domain.Project
	err := c.read(ctx, "projects", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("projects?id=%s&limit=1", eq(projectID)))
		if err != nil {
			return err
		}
		p, err := decodeOne[domain.Project](body)
		if err != nil {
			return fmt.Errorf("decode project: %w", err)
		}
		if p == nil {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "project", ID: projectID})
		}
		project = p
		return nil
	})
	return project, err
}

func (c *Client) UpdateProject(ctx context.Context, projectID string, fields map[string]any) (*domain.Project, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProject")
	defer span.End()

	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := c.write(ctx, "projects", func() error {
		return c.doPatch(ctx, fmt.Sprintf("projects?id=%s", eq(projectID)), fields)
	}); err != nil {
		return nil, err
	}
	return c.GetProject(ctx, projectID)
}

func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteProject")
	defer span.End()

	return c.write(ctx, "projects", func() error {
		if err := c.doDelete(ctx, fmt.Sprintf("documents?project_id=%s", eq(projectID))); err != nil {
			return err
		}
		return c.doDelete(ctx, fmt.Sprintf("projects?id=%s", eq(projectID)))
	})
}

// UnlockProject flips is_unlocked only while it is still false, so two
// concurrent unlocks report a single transition.
func (c *Client) UnlockProject(ctx context.Context, projectID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UnlockProject")
	defer span.End()

	var changed bool
	err := c.write(ctx, "projects", func() error {
		n, err := c.doPatchCount(ctx, fmt.Sprintf("projects?id=%s&is_unlocked=eq.false", eq(projectID)), map[string]any{
			"is_unlocked": true,
			"updated_at":  time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		changed = n > 0
		return nil
	})
	return changed, err
}
