// Package roles holds the agent personas used by the pipelines.
package roles

import (
	"fmt"
	"sort"

	"github.com/hupe1980/pmcrew/agent"
	"github.com/hupe1980/pmcrew/logging"
	"github.com/hupe1980/pmcrew/model"
	"github.com/hupe1980/pmcrew/tool"
)

// ID names a persona.
type ID string

const (
	ProjectManager  ID = "project_manager"
	Interviewer     ID = "interviewer"
	DocumentAnalyst ID = "document_analyst"
	Writer          ID = "writer"
)

// Persona is the fixed text describing a role.
type Persona struct {
	Role      string
	Goal      string
	Backstory string
}

var personas = map[ID]Persona{
	ProjectManager: {
		Role:      "Project Manager at Healthcare Facilitation Group (HFG)",
		Backstory: "Veteran project manager with 15+ years of cross-industry experience. Expert in PMBOK-compliant workbooks, known for clear documentation that enhances team communication and project success",
		Goal:      "Develop comprehensive, PMBOK-aligned project workbooks that effectively cover all elements of project management, tailored to meet unique client needs",
	},
	Interviewer: {
		Role:      "Professional Interviewer",
		Backstory: "Skilled interviewer adept at eliciting comprehensive project information through insightful, open-ended questions about risks, resources, and expectations",
		Goal:      "Help clients articulate their vision and needs clearly, ensuring all essential project management aspects are covered during the interview process",
	},
	DocumentAnalyst: {
		Role:      "Document Analysis Specialist",
		Backstory: "Experienced analyst with keen eye for detail. Proficient in parsing complex documents, identifying key insights, and providing concise summaries to support project planning and execution",
		Goal:      "Extract, analyze, and synthesize critical information from various project-related documents, ensuring comprehensive understanding and effective utilization of available data",
	},
	Writer: {
		Role:      "Documentation Architect",
		Backstory: "Experienced in comprehensive project documentation. Expertly details scope, schedule, resources, risks, and stakeholder engagement. Delivers clear, concise, and structured workbooks for effective project management",
		Goal:      "Create comprehensive, PMBOK-aligned project workbooks that ensure clarity and accountability throughout the project lifecycle.",
	},
}

// Lookup returns the persona for id.
func Lookup(id ID) (Persona, bool) {
	p, ok := personas[id]
	return p, ok
}

// IDs lists all personas in sorted order.
func IDs() []ID {
	ids := make([]ID, 0, len(personas))
	for id := range personas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Options configures agents built by a Catalog.
type Options struct {
	MaxIterations int
	Logger        logging.Logger
}

// Catalog binds personas to a model.
type Catalog struct {
	llm  model.Model
	opts Options
}

// NewCatalog returns a catalog whose agents all use llm.
func NewCatalog(llm model.Model, optFns ...func(o *Options)) *Catalog {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Catalog{llm: llm, opts: opts}
}

// Agent builds a fresh agent for id with the given tools.
func (c *Catalog) Agent(id ID, tools ...tool.Tool) (*agent.Agent, error) {
	p, ok := personas[id]
	if !ok {
		return nil, fmt.Errorf("unknown role %q", id)
	}

	return agent.New(p.Role, c.llm, func(o *agent.Options) {
		o.Goal = p.Goal
		o.Backstory = p.Backstory
		o.Tools = tools
		o.Logger = c.opts.Logger
		if c.opts.MaxIterations > 0 {
			o.MaxIterations = c.opts.MaxIterations
		}
	}), nil
}

// MustAgent is like Agent but panics on an unknown id.
func (c *Catalog) MustAgent(id ID, tools ...tool.Tool) *agent.Agent {
	a, err := c.Agent(id, tools...)
	if err != nil {
		panic(err)
	}
	return a
}
