// Package manifest defines the declarative metadata and permission set
// bundled with a skill package, plus the tools that validate, normalize
// and diff it.
package manifest

// Category is the closed set of skill categories a manifest may declare.
type Category string

const (
	CategoryAutomation    Category = "automation"
	CategoryAnalysis      Category = "analysis"
	CategoryCommunication Category = "communication"
	CategoryContent       Category = "content"
	CategoryIntegration   Category = "integration"
	CategoryOther         Category = "other"
)

// Categories lists every valid category value.
var Categories = []Category{
	CategoryAutomation,
	CategoryAnalysis,
	CategoryCommunication,
	CategoryContent,
	CategoryIntegration,
	CategoryOther,
}

// Manifest is the parsed manifest.json of a skill package.
type Manifest struct {
	Name            string      `json:"name"`
	Version         string      `json:"version"`
	Description     string      `json:"description,omitempty"`
	Category        Category    `json:"category"`
	CompatibleRoles []string    `json:"compatible_roles"`
	Permissions     Permissions `json:"permissions"`
	// FileRules maps a path pattern to a maximum file size in KB.
	// Patterns use a restricted glob where `*` stops at a path separator.
	FileRules map[string]int `json:"file_rules,omitempty"`
}

// Permissions is the structured permission manifest.
type Permissions struct {
	Network NetworkPermissions `json:"network"`
	Files   FilePermissions    `json:"files"`
	Env     EnvPermissions     `json:"env"`
}

// NetworkPermissions declares the domains a skill may reach.
type NetworkPermissions struct {
	AllowedDomains []string `json:"allowed_domains"`
}

// FilePermissions declares filesystem paths a skill may touch.
type FilePermissions struct {
	ReadPaths  []string `json:"read_paths"`
	WritePaths []string `json:"write_paths"`
}

// EnvPermissions declares environment variables a skill consumes.
type EnvPermissions struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

// Empty reports whether no permission of any class is declared.
func (p Permissions) Empty() bool {
	return len(p.Network.AllowedDomains) == 0 &&
		len(p.Files.ReadPaths) == 0 &&
		len(p.Files.WritePaths) == 0 &&
		len(p.Env.Required) == 0 &&
		len(p.Env.Optional) == 0
}

// RequestsNetwork reports whether any network access is declared.
func (p Permissions) RequestsNetwork() bool {
	return len(p.Network.AllowedDomains) > 0
}

// RequestsFilesystem reports whether any filesystem access is declared.
func (p Permissions) RequestsFilesystem() bool {
	return len(p.Files.ReadPaths) > 0 || len(p.Files.WritePaths) > 0
}
