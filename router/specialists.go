package router

import (
	"fmt"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/connection"
	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/session"
)

// Coordinator agent names.
const (
	RoutingCoordinator   = "CoordinatorRouting"
	SynthesisCoordinator = "CoordinatorSynthesis"
)

// Tool names bound to the specialists.
const (
	SearchToolName  = "azure_search"
	CinemasToolName = "cinemasapi"
)

const (
	routingInstructions = "You are a routing coordinator. When you receive a user's query, analyze it and output a JSON object " +
		"that maps agent names to the sub-query they should answer. For example: " +
		"{\"movieAgent\": \"Query for movies...\", \"docuAgent\": \"Query for Microsoft licensing products...\"}. " +
		"Only include keys for agents that are relevant to the query and do not include any additional text."

	synthesisInstructions = "You are a synthesis coordinator. Given the original user query and the responses from the delegated agents, " +
		"synthesize a final, coherent, and concise answer for the user. Organize the answer into appropriate sections. " +
		"Do not include any JSON or extra markup."

	docuInstructions = "You are an expert on Microsoft Licensing products. You are integrated with Azure AI Search via the 'azure_search' tool. " +
		"Use this tool to retrieve detailed and concise information on various Microsoft products such a windows server, Dynamics, PowerPlatform among others. " +
		"If you don´t find any relevant information in the aisearch, please answer with 'I could not find any content for you, sorry.'."

	movieInstructions = "You are an expert in cinema information. Use the provided API tool to retrieve current movies, showtimes, and cinema details." +
		"Respond only with relevant movie or cinema information. Indicate the total number of movies available." +
		"Reply only with the first 10 in alphabetical order of the title." +
		"If asked about a specific title, search for it in the complete list of movies and use the movie ID to call the endpoint that provides the rest of the information."

	searchToolDescription  = "Search the Microsoft licensing knowledge base indexed in Azure AI Search."
	cinemasToolDescription = "Access the cinemas API to retrieve movie listings, showtimes, and cinema details."
)

// SpecialistConfig parameterises the fixed agent definitions.
type SpecialistConfig struct {
	// Model is the deployment every agent runs on; empty uses the runtime default.
	Model string
	// IndexName is the search index queried by docuAgent.
	IndexName string
	// CinemasSpec is the path of the cinemas OpenAPI document.
	CinemasSpec string
}

// Specialists builds the closed set of agent definitions used by a session.
type Specialists struct {
	cfg SpecialistConfig
}

var _ session.SpecialistBuilder = (*Specialists)(nil)

// NewSpecialists creates the definition builder.
func NewSpecialists(cfg SpecialistConfig) *Specialists {
	return &Specialists{cfg: cfg}
}

// Coordinators returns the routing and synthesis definitions.
func (s *Specialists) Coordinators() (routing, synthesis agent.Definition) {
	routing = agent.Definition{Name: RoutingCoordinator, Instructions: routingInstructions, Model: s.cfg.Model}
	synthesis = agent.Definition{Name: SynthesisCoordinator, Instructions: synthesisInstructions, Model: s.cfg.Model}
	return routing, synthesis
}

// Specialist returns the named specialist's definition. docuAgent binds the
// first registered Azure AI Search connection, or none when nothing matches.
func (s *Specialists) Specialist(name string, conns []agent.Connection) (agent.Definition, error) {
	switch name {
	case session.DocuAgent:
		return agent.Definition{
			Name:         session.DocuAgent,
			Instructions: docuInstructions,
			Model:        s.cfg.Model,
			Tools: []agent.ToolBinding{{
				Kind:        agent.ToolKindAzureAISearch,
				Name:        SearchToolName,
				Description: searchToolDescription,
				Config: map[string]string{
					agent.ConfigConnectionID: connection.ResolveSearch(conns),
					agent.ConfigIndexName:    s.cfg.IndexName,
				},
			}},
		}, nil
	case session.MovieAgent:
		return agent.Definition{
			Name:         session.MovieAgent,
			Instructions: movieInstructions,
			Model:        s.cfg.Model,
			Tools: []agent.ToolBinding{{
				Kind:        agent.ToolKindOpenAPI,
				Name:        CinemasToolName,
				Description: cinemasToolDescription,
				Config: map[string]string{
					agent.ConfigSpecPath: s.cfg.CinemasSpec,
					agent.ConfigAuth:     agent.AuthAnonymous,
				},
			}},
		}, nil
	default:
		return agent.Definition{}, fmt.Errorf("%w: unknown specialist %q", errors.ErrInvalidInput, name)
	}
}
