package domain

// ============================================================
// Document type catalog
// ============================================================

// DocumentType describes a kind of document the generator can produce.
type DocumentType struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Icon           string         `json:"icon"`
	PromptTemplate string         `json:"prompt_template"`
	SortOrder      int            `json:"sort_order"`
	IsFree         bool           `json:"is_free"`
	Sections       []SectionSpec  `json:"sections"`
	RequiredInfo   []InfoQuestion `json:"required_info,omitempty"`
}

// SectionSpec is one section the generator fills for a document type.
type SectionSpec struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

// InfoQuestion is a questionnaire item the wizard asks before generation.
type InfoQuestion struct {
	Key      string `json:"key"`
	Question string `json:"question"`
	Required bool   `json:"required"`
}

// EffectiveSections returns the declared sections, or a single section
// driven by the type's prompt template when none are declared.
func (t *DocumentType) EffectiveSections() []SectionSpec {
	if len(t.Sections) > 0 {
		return t.Sections
	}
	return []SectionSpec{{ID: "main", Title: t.Name, Prompt: ""}}
}

// Section looks up a section spec by id.
func (t *DocumentType) Section(id string) (SectionSpec, bool) {
	for _, s := range t.EffectiveSections() {
		if s.ID == id {
			return s, true
		}
	}
	return SectionSpec{}, false
}
