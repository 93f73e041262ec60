package credentials

// File is the on-disk shape of credentials.toml.
type File struct {
	Version   int                `toml:"version"`
	Providers map[string]APIKey `toml:"providers"`
}

// APIKey is the stored secret for one backend provider.
type APIKey struct {
	Key string `toml:"api_key"`
}

// Source says where a resolved key came from.
type Source string

const (
	SourceNone Source = ""
	SourceFile Source = "file"
	SourceEnv  Source = "env"
)
