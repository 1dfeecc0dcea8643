package config

// Config file names, in lookup order.
const (
	ConfigFileName    = "leapcloak.yaml"
	ConfigFileNameAlt = "leapcloak.yml"
)

// EnvPrefix prefixes environment variables: LEAPCLOAK_OUTPUT_DIR sets output_dir.
const EnvPrefix = "LEAPCLOAK_"

// Default configuration values.
const (
	DefaultBaseDir   = "."
	DefaultOutputDir = "out"
	DefaultStateFile = ".leapcloak/state.db"
	DefaultOutput    = "auto" // styled text on a terminal, plain text otherwise
)

// OutputFormats are the accepted values of the output option.
var OutputFormats = []string{"auto", "text", "json"}

func defaults() map[string]any {
	return map[string]any{
		"base_dir":   DefaultBaseDir,
		"output_dir": DefaultOutputDir,
		"seed":       "",
		"workers":    0,
		"state_path": DefaultStateFile,
		"verbose":    false,
		"output":     DefaultOutput,
	}
}
