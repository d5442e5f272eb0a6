package api

// Amounts cross the wire as strings so the exact decimal parser sees the
// user's input untouched by any float conversion.

const registerSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["email", "password"],
  "properties": {
    "email": {"type": "string", "pattern": "^[^@\\s]+@[^@\\s]+\\.[^@\\s]+$", "maxLength": 255},
    "password": {"type": "string", "minLength": 8, "maxLength": 128}
  }
}`

const loginSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["email", "password"],
  "properties": {
    "email": {"type": "string", "minLength": 1, "maxLength": 255},
    "password": {"type": "string", "minLength": 1, "maxLength": 128}
  }
}`

const depositSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount"],
  "properties": {
    "amount": {"type": "string", "minLength": 1, "maxLength": 32}
  }
}`

const transferSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["to_email", "amount"],
  "properties": {
    "to_email": {"type": "string", "pattern": "^[^@\\s]+@[^@\\s]+\\.[^@\\s]+$", "maxLength": 255},
    "amount": {"type": "string", "minLength": 1, "maxLength": 32},
    "note": {"type": "string", "maxLength": 255}
  }
}`
