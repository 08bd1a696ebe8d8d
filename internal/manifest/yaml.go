package manifest

import "sigs.k8s.io/yaml"

// unmarshalManifestYAML decodes a manifest document via sigs.k8s.io/yaml,
// which converts YAML to JSON before unmarshalling so the same struct
// tags serve both the registry's YAML input and the HTTP API's JSON
// responses.
func unmarshalManifestYAML(doc string, out *Manifest) error {
	return yaml.Unmarshal([]byte(doc), out)
}
