package domain

import "time"

// ============================================================
// Projects
// ============================================================

// Project is a user's business profile, used as generation context.
type Project struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	BusinessName   string    `json:"business_name"`
	BusinessType   string    `json:"business_type"`
	TargetAudience string    `json:"target_audience"`
	Goals          string    `json:"goals"`
	Budget         string    `json:"budget"`
	Challenges     string    `json:"challenges"`
	Description    string    `json:"description,omitempty"`
	IsUnlocked     bool      `json:"is_unlocked"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProjectInput is the payload to create a project.
type ProjectInput struct {
	BusinessName   string `json:"business_name"   validate:"required,min=1,max=200"`
	BusinessType   string `json:"business_type"   validate:"max=200"`
	TargetAudience string `json:"target_audience" validate:"max=2000"`
	Goals          string `json:"goals"           validate:"max=2000"`
	Budget         string `json:"budget"          validate:"max=200"`
	Challenges     string `json:"challenges"      validate:"max=2000"`
	Description    string `json:"description"     validate:"max=4000"`
}

// ProjectUpdate is a partial update; nil fields are left untouched.
type ProjectUpdate struct {
	BusinessName   *string `json:"business_name,omitempty"   validate:"omitempty,min=1,max=200"`
	BusinessType   *string `json:"business_type,omitempty"   validate:"omitempty,max=200"`
	TargetAudience *string `json:"target_audience,omitempty" validate:"omitempty,max=2000"`
	Goals          *string `json:"goals,omitempty"           validate:"omitempty,max=2000"`
	Budget         *string `json:"budget,omitempty"          validate:"omitempty,max=200"`
	Challenges     *string `json:"challenges,omitempty"      validate:"omitempty,max=2000"`
	Description    *string `json:"description,omitempty"     validate:"omitempty,max=4000"`
}

// Fields returns the column/value pairs set on the update.
func (u *ProjectUpdate) Fields() map[string]any {
	fields := map[string]any{}
	set := func(col string, v *string) {
		if v != nil {
			fields[col] = *v
		}
	}
	set("business_name", u.BusinessName)
	set("business_type", u.BusinessType)
	set("target_audience", u.TargetAudience)
	set("goals", u.Goals)
	set("budget", u.Budget)
	set("challenges", u.Challenges)
	set("description", u.Description)
	return fields
}

// ProjectDashboard is a project together with its documents.
type ProjectDashboard struct {
	Project   *Project   `json:"project"`
	Documents []Document `json:"documents"`
}
