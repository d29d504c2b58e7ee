// Package config loads the AuditFi daemon configuration from a JSON file,
// fills defaults relative to the file's directory, and resolves secrets
// referenced through *_env fields.
package config
