// Package docs holds the OpenAPI description of the gateway served under
// /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header",
            "description": "Bearer <master key>; required when a master key is configured"
        }
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/health": {
            "get": {
                "tags": ["system"],
                "summary": "Liveness check",
                "security": [],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/gateway/ready": {
            "get": {
                "tags": ["system"],
                "summary": "Readiness check",
                "security": [],
                "responses": {"200": {"description": "Ready"}}
            }
        },
        "/gateway/mlflow/v1/chat/completions": {
            "post": {
                "tags": ["gateway"],
                "summary": "Chat completion against a named endpoint",
                "description": "The model field names the endpoint. With stream set the response is a text/event-stream of chunks ending in [DONE].",
                "consumes": ["application/json"],
                "produces": ["application/json", "text/event-stream"],
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/ChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ChatResponse"}},
                    "400": {"description": "Invalid request or unsupported option", "schema": {"$ref": "#/definitions/Error"}},
                    "404": {"description": "Endpoint not found", "schema": {"$ref": "#/definitions/Error"}},
                    "429": {"description": "Endpoint rate limit exceeded", "schema": {"$ref": "#/definitions/Error"}},
                    "502": {"description": "Upstream unavailable", "schema": {"$ref": "#/definitions/Error"}},
                    "504": {"description": "Upstream timeout", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/gateway/mlflow/v1/embeddings": {
            "post": {
                "tags": ["gateway"],
                "summary": "Embeddings against a named endpoint",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/EmbeddingRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/EmbeddingResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/Error"}},
                    "404": {"description": "Endpoint not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/gateway/{name}/mlflow/invocations": {
            "post": {
                "tags": ["gateway"],
                "summary": "Invoke an endpoint by path",
                "description": "Accepts a chat body (messages) or an embeddings body (input); the endpoint comes from the path.",
                "consumes": ["application/json"],
                "produces": ["application/json", "text/event-stream"],
                "parameters": [
                    {"in": "path", "name": "name", "type": "string", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Endpoint not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/gateway/{provider}/{path}": {
            "post": {
                "tags": ["passthrough"],
                "summary": "Forward a native provider request",
                "description": "The body is relayed unchanged to the provider's API with the default credential for that provider attached.",
                "parameters": [
                    {"in": "path", "name": "provider", "type": "string", "required": true},
                    {"in": "path", "name": "path", "type": "string", "required": true},
                    {"in": "body", "name": "body", "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "Upstream response"},
                    "424": {"description": "No default credential for the provider", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/api/2.0/endpoints": {
            "get": {
                "tags": ["endpoints"],
                "summary": "List endpoints",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/EndpointsResponse"}}}
            }
        },
        "/api/2.0/gateway/credentials": {
            "get": {
                "tags": ["admin"],
                "summary": "List credentials without their secrets",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/CredentialsResponse"}}}
            },
            "post": {
                "tags": ["admin"],
                "summary": "Store a credential",
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/CreateCredentialRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/CredentialInfo"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/api/2.0/gateway/credentials/{id}": {
            "get": {
                "tags": ["admin"],
                "summary": "Describe a credential",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/CredentialInfo"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            },
            "put": {
                "tags": ["admin"],
                "summary": "Rotate a credential's secret",
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/RotateCredentialRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/CredentialInfo"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            },
            "delete": {
                "tags": ["admin"],
                "summary": "Delete an unreferenced credential",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Still referenced by an endpoint", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/api/2.0/gateway/credentials/{id}/default": {
            "post": {
                "tags": ["admin"],
                "summary": "Make a credential its provider's default",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/CredentialInfo"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/api/2.0/gateway/endpoints": {
            "get": {
                "tags": ["admin"],
                "summary": "List endpoints",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/EndpointsResponse"}}}
            },
            "post": {
                "tags": ["admin"],
                "summary": "Create an endpoint",
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/EndpointRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/Endpoint"}},
                    "400": {"description": "Invalid endpoint", "schema": {"$ref": "#/definitions/Error"}},
                    "409": {"description": "Already exists", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/api/2.0/gateway/endpoints/{name}": {
            "get": {
                "tags": ["admin"],
                "summary": "Describe an endpoint",
                "parameters": [{"in": "path", "name": "name", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Endpoint"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            },
            "put": {
                "tags": ["admin"],
                "summary": "Replace an endpoint's configuration",
                "parameters": [
                    {"in": "path", "name": "name", "type": "string", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/EndpointRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Endpoint"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            },
            "delete": {
                "tags": ["admin"],
                "summary": "Delete an endpoint",
                "parameters": [{"in": "path", "name": "name", "type": "string", "required": true}],
                "responses": {
                    "204": {"description": "Deleted"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/api/2.0/gateway/snapshot": {
            "get": {
                "tags": ["admin"],
                "summary": "Version and digest of the routing configuration",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/SnapshotResponse"}}}
            }
        },
        "/api/2.0/gateway/usage/summary": {
            "get": {
                "tags": ["admin"],
                "summary": "Aggregated token usage",
                "parameters": [
                    {"in": "query", "name": "days", "type": "integer"},
                    {"in": "query", "name": "start_date", "type": "string", "format": "date"},
                    {"in": "query", "name": "end_date", "type": "string", "format": "date"},
                    {"in": "query", "name": "endpoint", "type": "string"},
                    {"in": "query", "name": "provider", "type": "string"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/api/2.0/gateway/usage/daily": {
            "get": {
                "tags": ["admin"],
                "summary": "Token usage per day",
                "parameters": [
                    {"in": "query", "name": "days", "type": "integer"},
                    {"in": "query", "name": "start_date", "type": "string", "format": "date"},
                    {"in": "query", "name": "end_date", "type": "string", "format": "date"},
                    {"in": "query", "name": "endpoint", "type": "string"},
                    {"in": "query", "name": "provider", "type": "string"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"type": "object"}}}}
            }
        }
    },
    "definitions": {
        "Message": {
            "type": "object",
            "properties": {
                "role": {"type": "string"},
                "content": {"type": "string"}
            }
        },
        "ChatRequest": {
            "type": "object",
            "required": ["model", "messages"],
            "properties": {
                "model": {"type": "string", "description": "endpoint name"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/Message"}},
                "temperature": {"type": "number"},
                "top_p": {"type": "number"},
                "top_k": {"type": "integer"},
                "max_tokens": {"type": "integer"},
                "n": {"type": "integer"},
                "stop": {"type": "array", "items": {"type": "string"}},
                "presence_penalty": {"type": "number"},
                "frequency_penalty": {"type": "number"},
                "seed": {"type": "integer"},
                "user": {"type": "string"},
                "stream": {"type": "boolean"}
            }
        },
        "Usage": {
            "type": "object",
            "properties": {
                "prompt_tokens": {"type": "integer"},
                "completion_tokens": {"type": "integer"},
                "total_tokens": {"type": "integer"}
            }
        },
        "ChatResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "object": {"type": "string"},
                "model": {"type": "string"},
                "created": {"type": "integer"},
                "choices": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "index": {"type": "integer"},
                            "message": {"$ref": "#/definitions/Message"},
                            "finish_reason": {"type": "string"}
                        }
                    }
                },
                "usage": {"$ref": "#/definitions/Usage"},
                "warnings": {"type": "array", "items": {"type": "string"}}
            }
        },
        "EmbeddingRequest": {
            "type": "object",
            "required": ["model", "input"],
            "properties": {
                "model": {"type": "string", "description": "endpoint name"},
                "input": {"type": "array", "items": {"type": "string"}}
            }
        },
        "EmbeddingResponse": {
            "type": "object",
            "properties": {
                "object": {"type": "string"},
                "model": {"type": "string"},
                "data": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "index": {"type": "integer"},
                            "embedding": {"type": "array", "items": {"type": "number"}}
                        }
                    }
                },
                "usage": {"$ref": "#/definitions/Usage"}
            }
        },
        "Endpoint": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "provider": {"type": "string"},
                "model": {"type": "string"},
                "credential_id": {"type": "string"},
                "options": {"type": "object"},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"}
            }
        },
        "EndpointRequest": {
            "type": "object",
            "required": ["provider", "model", "credential_id"],
            "properties": {
                "name": {"type": "string"},
                "provider": {"type": "string"},
                "model": {"type": "string"},
                "credential_id": {"type": "string"},
                "options": {"type": "object"}
            }
        },
        "EndpointsResponse": {
            "type": "object",
            "properties": {
                "endpoints": {"type": "array", "items": {"$ref": "#/definitions/Endpoint"}},
                "version": {"type": "integer"}
            }
        },
        "CredentialInfo": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "provider": {"type": "string"},
                "metadata": {"type": "object", "additionalProperties": {"type": "string"}},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "CredentialsResponse": {
            "type": "object",
            "properties": {
                "credentials": {"type": "array", "items": {"$ref": "#/definitions/CredentialInfo"}}
            }
        },
        "CreateCredentialRequest": {
            "type": "object",
            "required": ["provider", "secret"],
            "properties": {
                "provider": {"type": "string"},
                "secret": {"type": "string", "format": "password"},
                "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "RotateCredentialRequest": {
            "type": "object",
            "required": ["secret"],
            "properties": {
                "secret": {"type": "string", "format": "password"}
            }
        },
        "SnapshotResponse": {
            "type": "object",
            "properties": {
                "version": {"type": "integer"},
                "digest": {"type": "string"},
                "endpoints": {"type": "integer"},
                "credentials": {"type": "integer"},
                "persistent": {"type": "boolean"}
            }
        },
        "Error": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "type": {"type": "string"},
                        "code": {"type": "string"},
                        "message": {"type": "string"},
                        "provider": {"type": "string"}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "AI Gateway API",
	Description:      "Routes chat and embeddings calls to named endpoints backed by provider credentials.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
