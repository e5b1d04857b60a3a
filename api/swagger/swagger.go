package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Review API",
        "description": "Document review workflow, comment threads and review dashboards.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Review", "description": "Document approval and revision workflow"},
        {"name": "Comments", "description": "Flat comment threads on documents"},
        {"name": "Stats", "description": "Review progress per class"},
        {"name": "Authentication", "description": "Access tokens"}
    ],
    "paths": {
        "/auth/token": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Issue an access token for an active user",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/IssueTokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown user", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/documents": {
            "get": {
                "tags": ["Review"],
                "summary": "List review documents",
                "parameters": [
                    {"in": "query", "name": "classId", "type": "array", "items": {"type": "string"}, "collectionFormat": "multi"},
                    {"in": "query", "name": "kind", "type": "string", "enum": ["PLAN", "BOARDING", "OFFICE"]},
                    {"in": "query", "name": "planType", "type": "string", "enum": ["week", "month"]},
                    {"in": "query", "name": "week", "type": "integer"},
                    {"in": "query", "name": "month", "type": "integer"},
                    {"in": "query", "name": "year", "type": "integer"},
                    {"in": "query", "name": "status", "type": "array", "items": {"type": "string"}, "collectionFormat": "multi"},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "page_size", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Review"],
                "summary": "Register a document for review",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/CreateDocumentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid argument", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/documents/{id}": {
            "get": {
                "tags": ["Review"],
                "summary": "Get a document with its thread",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Review"],
                "summary": "Delete a document",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "Deleted"},
                    "403": {"description": "Permission denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/documents/{id}/reviewers": {
            "get": {
                "tags": ["Review"],
                "summary": "Resolve who may review a document",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/documents/{id}/history": {
            "get": {
                "tags": ["Review"],
                "summary": "Audit trail of a document",
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "query", "name": "limit", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/documents/{id}/approve": {
            "post": {
                "tags": ["Review"],
                "summary": "Approve a document",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Actor is not in the reviewer pool", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/documents/{id}/revision": {
            "post": {
                "tags": ["Review"],
                "summary": "Send a document back for revision",
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/RequestRevisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Empty reason or already approved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Actor is not in the reviewer pool", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/documents/{id}/comments": {
            "post": {
                "tags": ["Comments"],
                "summary": "Append a comment",
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/PostCommentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/documents/{id}/comments/{commentId}": {
            "patch": {
                "tags": ["Comments"],
                "summary": "Edit a comment",
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "path", "name": "commentId", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/EditCommentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not the author or a manager", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Comments"],
                "summary": "Delete a comment",
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "path", "name": "commentId", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "403": {"description": "Not the author or a manager", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/stats": {
            "get": {
                "tags": ["Stats"],
                "summary": "Review progress per class",
                "parameters": [
                    {"in": "query", "name": "classId", "type": "array", "items": {"type": "string"}, "collectionFormat": "multi"},
                    {"in": "query", "name": "kind", "type": "string"},
                    {"in": "query", "name": "planType", "type": "string"},
                    {"in": "query", "name": "week", "type": "integer"},
                    {"in": "query", "name": "month", "type": "integer"},
                    {"in": "query", "name": "year", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/stats/stream": {
            "get": {
                "tags": ["Stats"],
                "summary": "Live review progress as server-sent events",
                "produces": ["text/event-stream"],
                "parameters": [
                    {"in": "query", "name": "classId", "type": "array", "items": {"type": "string"}, "collectionFormat": "multi"},
                    {"in": "query", "name": "access_token", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "stats events", "schema": {"$ref": "#/definitions/ClassroomStats"}},
                    "503": {"description": "Live updates unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reviews/stats/export": {
            "get": {
                "tags": ["Stats"],
                "summary": "Download the review summary",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"in": "query", "name": "format", "type": "string", "enum": ["csv", "pdf"]},
                    {"in": "query", "name": "classId", "type": "array", "items": {"type": "string"}, "collectionFormat": "multi"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "400": {"description": "Unsupported format", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "IssueTokenRequest": {
            "type": "object",
            "properties": {"userId": {"type": "string"}},
            "required": ["userId"]
        },
        "CreateDocumentRequest": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "enum": ["PLAN", "BOARDING", "OFFICE"]},
                "classId": {"type": "string"},
                "title": {"type": "string"},
                "fileRef": {"type": "string"},
                "planType": {"type": "string", "enum": ["week", "month"]},
                "week": {"type": "integer"},
                "month": {"type": "integer"},
                "year": {"type": "integer"},
                "schoolYear": {"type": "string"}
            },
            "required": ["kind", "classId", "title", "fileRef"]
        },
        "RequestRevisionRequest": {
            "type": "object",
            "properties": {"reason": {"type": "string"}},
            "required": ["reason"]
        },
        "PostCommentRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["comment", "request", "response"]},
                "content": {"type": "string"}
            },
            "required": ["type", "content"]
        },
        "EditCommentRequest": {
            "type": "object",
            "properties": {"content": {"type": "string"}},
            "required": ["content"]
        },
        "UnitStats": {
            "type": "object",
            "properties": {
                "classId": {"type": "string"},
                "approved": {"type": "integer"},
                "pending": {"type": "integer"},
                "revision": {"type": "integer"},
                "responded": {"type": "integer"},
                "total": {"type": "integer"},
                "uploaded": {"type": "boolean"}
            }
        },
        "ClassroomStats": {
            "type": "object",
            "properties": {
                "approvedCount": {"type": "integer"},
                "pendingCount": {"type": "integer"},
                "revisionCount": {"type": "integer"},
                "respondedCount": {"type": "integer"},
                "total": {"type": "integer"},
                "units": {"type": "array", "items": {"$ref": "#/definitions/UnitStats"}},
                "uploaded": {"type": "array", "items": {"type": "string"}},
                "missing": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
