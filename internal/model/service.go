// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// SERVICE DEFINITIONS
// =============================================================================

// ServiceID identifies one of the backend chat services.
type ServiceID string

// Known backend services.
const (
	ServiceSecurityExpert  ServiceID = "security_expert"
	ServiceLLMExpert       ServiceID = "llm_expert"
	ServiceUnifiedAgent    ServiceID = "unified_agent"
	ServiceRAGConversation ServiceID = "rag_conversation"
)

// DefaultService is used when a conversation payload omits its service.
const DefaultService = ServiceRAGConversation

// Service describes a backend chat service: which endpoint receives its
// messages, the retrieval domain it searches, and the static welcome
// message seeded into new conversations.
type Service struct {
	ID             ServiceID
	Name           string
	Endpoint       string
	Domain         string
	WelcomeMessage string
}

// Services lists every service the client can talk to.
var Services = []Service{
	{
		ID:             ServiceSecurityExpert,
		Name:           "Experto en Ciberseguridad",
		Endpoint:       "/security-expert/",
		Domain:         "ciberseguridad",
		WelcomeMessage: "Bienvenido al servicio de Ciberseguridad. ¿En qué puedo ayudarte hoy?",
	},
	{
		ID:             ServiceLLMExpert,
		Name:           "Experto en LLMs",
		Endpoint:       "/ai-expert/",
		Domain:         "ia_generativa",
		WelcomeMessage: "Bienvenido al servicio de información sobre LLMs. ¿Qué te gustaría saber?",
	},
	{
		ID:             ServiceUnifiedAgent,
		Name:           "Agente Unificado",
		Endpoint:       "/unified-agent/",
		Domain:         "todos",
		WelcomeMessage: "Bienvenido al agente unificado. ¿Qué necesitas?",
	},
	{
		ID:             ServiceRAGConversation,
		Name:           "Base de Conocimientos",
		Endpoint:       "/chat/",
		Domain:         "todos",
		WelcomeMessage: "Bienvenido a la Base de Conocimientos. Puedo ayudarte a encontrar información en nuestros documentos.",
	},
}

// ServiceByID looks up a service definition.
func ServiceByID(id ServiceID) (Service, bool) {
	for _, s := range Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

// Valid reports whether the id names a known service.
func (id ServiceID) Valid() bool {
	_, ok := ServiceByID(id)
	return ok
}

// Endpoint returns the chat endpoint path for the service, falling back to
// the generic /chat/ endpoint for unknown ids.
func (id ServiceID) Endpoint() string {
	if s, ok := ServiceByID(id); ok {
		return s.Endpoint
	}
	return "/chat/"
}
