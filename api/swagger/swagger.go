package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Campus Ops API",
        "description": "Multi-tenant attendance verification and fee alert engine",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Attendance", "description": "Attendance submission, amendment and history"},
        {"name": "QRCodes", "description": "Check-in token lifecycle"},
        {"name": "Fees", "description": "Fee ledger, payments and receipts"},
        {"name": "Alerts", "description": "Alert rules and emitted events"}
    ],
    "paths": {
        "/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List attendance history",
                "parameters": [
                    {"name": "subject_id", "in": "query", "type": "string"},
                    {"name": "method", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "date_from", "in": "query", "type": "string"},
                    {"name": "date_to", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Attendance"],
                "summary": "Submit an attendance record",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitAttendanceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Verification rejected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/stats": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Summarise attendance status counts",
                "parameters": [
                    {"name": "subject_id", "in": "query", "type": "string"},
                    {"name": "date_from", "in": "query", "type": "string"},
                    {"name": "date_to", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/amend": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Amend the current attendance record for a day",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AmendAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Concurrent amendment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/{id}/void": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Void a disputed attendance record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VoidAttendanceRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/qrcodes": {
            "get": {
                "tags": ["QRCodes"],
                "summary": "List active check-in tokens",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["QRCodes"],
                "summary": "Issue a check-in token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IssueQRCodeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/qrcodes/consume": {
            "post": {
                "tags": ["QRCodes"],
                "summary": "Spend one use of a check-in token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConsumeQRCodeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Token exhausted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "410": {"description": "Token expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/qrcodes/{id}": {
            "delete": {
                "tags": ["QRCodes"],
                "summary": "Deactivate a check-in token",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/fees": {
            "get": {
                "tags": ["Fees"],
                "summary": "List fee records",
                "parameters": [
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "fee_type", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Fees"],
                "summary": "Assess a fee for a student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssessFeeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/fees/stats": {
            "get": {
                "tags": ["Fees"],
                "summary": "Aggregate the tenant's fee position",
                "parameters": [
                    {"name": "academic_year", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/fees/{id}": {
            "get": {
                "tags": ["Fees"],
                "summary": "Get a fee record with its payment history",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/fees/{id}/payments": {
            "post": {
                "tags": ["Fees"],
                "summary": "Apply a payment to a fee record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApplyPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Concurrent update", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/fees/{id}/waive": {
            "post": {
                "tags": ["Fees"],
                "summary": "Waive accrued late fees on a record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WaiveFeeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/fees/{id}/recompute": {
            "post": {
                "tags": ["Fees"],
                "summary": "Recompute derived state for a fee record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/fees/payments/{paymentId}/receipt": {
            "get": {
                "tags": ["Fees"],
                "summary": "Download a payment receipt as PDF",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "paymentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF receipt"}
                }
            }
        },
        "/fees/payments/{paymentId}/receipt-link": {
            "get": {
                "tags": ["Fees"],
                "summary": "Create a shareable signed link for a payment receipt",
                "parameters": [
                    {"name": "paymentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/receipts/{token}": {
            "get": {
                "tags": ["Fees"],
                "summary": "Download a receipt through a signed link",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF receipt"}
                }
            }
        },
        "/alerts/rules": {
            "get": {
                "tags": ["Alerts"],
                "summary": "List the tenant's alert rules",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Alerts"],
                "summary": "Create an alert rule",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAlertRuleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/alerts/rules/{id}/active": {
            "put": {
                "tags": ["Alerts"],
                "summary": "Activate or deactivate an alert rule",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetRuleActiveRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/alerts/events": {
            "get": {
                "tags": ["Alerts"],
                "summary": "List alert events",
                "parameters": [
                    {"name": "rule_id", "in": "query", "type": "string"},
                    {"name": "subject_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/alerts/evaluate": {
            "post": {
                "tags": ["Alerts"],
                "summary": "Evaluate the tenant's alert rules now",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "SubmitAttendanceRequest": {
            "type": "object",
            "properties": {
                "subject_id": {"type": "string"},
                "date": {"type": "string"},
                "method": {"type": "string", "enum": ["manual", "qr", "geolocation", "biometric", "rfid"]},
                "time_in": {"type": "string"},
                "notes": {"type": "string"},
                "status": {"type": "string"},
                "latitude": {"type": "number"},
                "longitude": {"type": "number"},
                "accuracy_m": {"type": "number"},
                "qr_code": {"type": "string"},
                "biometric_sample": {"type": "string"},
                "card_uid": {"type": "string"}
            },
            "required": ["method"]
        },
        "AmendAttendanceRequest": {
            "type": "object",
            "properties": {
                "subject_id": {"type": "string"},
                "date": {"type": "string"},
                "status": {"type": "string"},
                "notes": {"type": "string"}
            },
            "required": ["subject_id", "status"]
        },
        "VoidAttendanceRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            },
            "required": ["reason"]
        },
        "IssueQRCodeRequest": {
            "type": "object",
            "properties": {
                "bound_context": {"type": "string"},
                "valid_until": {"type": "string"},
                "max_usage": {"type": "integer"}
            },
            "required": ["bound_context", "valid_until", "max_usage"]
        },
        "ConsumeQRCodeRequest": {
            "type": "object",
            "properties": {
                "code": {"type": "string"}
            },
            "required": ["code"]
        },
        "AssessFeeRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "fee_type": {"type": "string"},
                "academic_year": {"type": "string"},
                "total_amount": {"type": "number"},
                "discount_amount": {"type": "number"},
                "due_date": {"type": "string"},
                "grace_period_days": {"type": "integer"},
                "description": {"type": "string"}
            },
            "required": ["student_id", "fee_type", "total_amount", "due_date"]
        },
        "ApplyPaymentRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "number"},
                "method": {"type": "string"},
                "reference": {"type": "string"},
                "paid_at": {"type": "string"}
            },
            "required": ["amount", "method"]
        },
        "WaiveFeeRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            },
            "required": ["reason"]
        },
        "CreateAlertRuleRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "target": {"type": "string", "enum": ["attendance", "fee", "academic"]},
                "field": {"type": "string"},
                "operator": {"type": "string", "enum": ["lt", "lte", "gt", "gte", "eq"]},
                "threshold": {"type": "number"},
                "channels": {"type": "array", "items": {"type": "string"}},
                "cooldown_seconds": {"type": "integer"}
            },
            "required": ["name", "target", "field", "operator", "channels"]
        },
        "SetRuleActiveRequest": {
            "type": "object",
            "properties": {
                "active": {"type": "boolean"}
            },
            "required": ["active"]
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
