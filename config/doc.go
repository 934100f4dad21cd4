// Package config handles application configuration loading and validation.
//
// Configuration is loaded from config.yml (or a JSON file with comments)
// and validated using struct tags. Defaults are filled in after
// validation, so a missing section means "use the default" rather than
// "invalid".
package config
