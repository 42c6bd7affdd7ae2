package handlers

import (
	"encoding/json"
	"net/http"
)

type object = map[string]interface{}

func ref(name string) object {
	return object{"$ref": "#/components/schemas/" + name}
}

func queryParam(name, description string, schema object) object {
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema,
	}
}

func jsonResponse(description string, schema object) object {
	return object{
		"description": description,
		"content": object{
			"application/json": object{"schema": schema},
		},
	}
}

var nullableNumber = object{"type": "number", "nullable": true}

// openAPIDocument describes the dashboard API in OpenAPI 3.0 form.
func openAPIDocument() object {
	badRequest := jsonResponse("Invalid query parameter", ref("Error"))

	return object{
		"openapi": "3.0.3",
		"info": object{
			"title":       "Sensor Dashboard API",
			"description": "Normalized environmental sensor readings, 24 hour temperature extrema and live refresh state.",
			"version":     "1.0.0",
		},
		"servers": []object{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/dashboard": object{
				"get": object{
					"summary":     "Current display state",
					"description": "Latest reading, temperature high/low and the full series of the last refresh cycle. On a failed cycle status is error; stale marks retained data.",
					"responses": object{
						"200": jsonResponse("Display state", ref("DisplayState")),
					},
				},
			},
			"/api/readings": object{
				"get": object{
					"summary":     "Readings of the current series",
					"description": "Page through the published series, optionally narrowed to a time window or projected onto one field for charting.",
					"parameters": []object{
						queryParam("start", "Inclusive lower bound (RFC 3339)", object{"type": "string", "format": "date-time"}),
						queryParam("end", "Inclusive upper bound (RFC 3339)", object{"type": "string", "format": "date-time"}),
						queryParam("field", "Return {timestamp, value} points for one field", object{
							"type": "string",
							"enum": []string{"temperature", "humidity", "pressure", "battery"},
						}),
						queryParam("page", "Page number (default: 1)", object{"type": "integer", "default": 1}),
						queryParam("limit", "Readings per page (default: 500, max: 5000)", object{"type": "integer", "default": 500}),
					},
					"responses": object{
						"200": jsonResponse("Page of readings", object{
							"type": "object",
							"properties": object{
								"data":        object{"type": "array", "items": ref("Reading")},
								"total":       object{"type": "integer"},
								"page":        object{"type": "integer"},
								"limit":       object{"type": "integer"},
								"total_pages": object{"type": "integer"},
								"stale":       object{"type": "boolean"},
							},
						}),
						"400": badRequest,
					},
				},
			},
			"/api/stats": object{
				"get": object{
					"summary": "Extrema of every field over the current series",
					"responses": object{
						"200": jsonResponse("Series summary", object{
							"type": "object",
							"properties": object{
								"count":       object{"type": "integer"},
								"temperature": ref("Extrema"),
								"humidity":    ref("Extrema"),
								"pressure":    ref("Extrema"),
								"battery":     ref("Extrema"),
								"status":      object{"type": "string"},
								"stale":       object{"type": "boolean"},
								"updated_at":  object{"type": "string", "format": "date-time"},
							},
						}),
					},
				},
			},
			"/api/refresh": object{
				"post": object{
					"summary":     "Request a refresh ahead of the timer",
					"description": "Requests made while one is already pending are dropped.",
					"responses": object{
						"202": jsonResponse("Request accepted", object{
							"type":       "object",
							"properties": object{"queued": object{"type": "boolean"}},
						}),
					},
				},
			},
			"/api/events": object{
				"get": object{
					"summary":     "Display state stream",
					"description": "Server-sent events. Each published state is sent as an event named state whose data is a DisplayState.",
					"responses": object{
						"200": object{
							"description": "Event stream",
							"content":     object{"text/event-stream": object{"schema": object{"type": "string"}}},
						},
					},
				},
			},
			"/health": object{
				"get": object{
					"summary": "Service health",
					"responses": object{
						"200": jsonResponse("Healthy", object{"type": "object"}),
						"503": jsonResponse("A dependency is unreachable", object{"type": "object"}),
					},
				},
			},
		},
		"components": object{
			"schemas": object{
				"Reading": object{
					"type": "object",
					"properties": object{
						"timestamp":     object{"type": "string", "format": "date-time"},
						"temperature_c": nullableNumber,
						"humidity_pct":  nullableNumber,
						"pressure_hpa":  nullableNumber,
						"battery_v":     nullableNumber,
					},
				},
				"Extrema": object{
					"type": "object",
					"properties": object{
						"max": nullableNumber,
						"min": nullableNumber,
					},
				},
				"DisplayState": object{
					"type": "object",
					"properties": object{
						"status":      object{"type": "string", "enum": []string{"loading", "ok", "error"}},
						"latest":      ref("Reading"),
						"temperature": ref("Extrema"),
						"series":      object{"type": "array", "items": ref("Reading")},
						"error": object{
							"type": "object",
							"properties": object{
								"kind":    object{"type": "string", "enum": []string{"transport", "parse", "empty", "configuration", "unknown"}},
								"message": object{"type": "string"},
							},
						},
						"stale":      object{"type": "boolean"},
						"updated_at": object{"type": "string", "format": "date-time"},
						"cycle_id":   object{"type": "string"},
					},
				},
				"Error": object{
					"type": "object",
					"properties": object{
						"error":   object{"type": "string"},
						"message": object{"type": "string"},
						"code":    object{"type": "integer"},
					},
				},
			},
		},
	}
}

// OpenAPISpec serves the OpenAPI document
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(openAPIDocument())
}
