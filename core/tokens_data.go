package core

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed tokens.yaml
var tokensYAML []byte

// tokenDef is the on-disk shape of one entry in tokens.yaml. flags are
// decoded as strings rather than a bitmask so the data file stays
// human-editable.
type tokenDef struct {
	Text  string   `yaml:"text"`
	Flags []string `yaml:"flags"`
}

type tokenDefFile struct {
	Fields       []tokenDef `yaml:"fields"`
	Methods      []tokenDef `yaml:"methods"`
	Schemes      []tokenDef `yaml:"schemes"`
	CacheControl []tokenDef `yaml:"cachecontrol"`
}

func parseTokenDefFile(raw []byte) (*tokenDefFile, error) {
	var f tokenDefFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, wrapf(err, "decode token table")
	}
	return &f, nil
}

func decodeFlags(names []string) TokenFlags {
	var flags TokenFlags
	for _, n := range names {
		switch n {
		case "commas":
			flags |= FlagCommas
		case "multivalue":
			flags |= FlagMultiValue
		case "hopbyhop":
			flags |= FlagHopByHop
		case "proxyauth":
			flags |= FlagProxyAuth
		}
	}
	return flags
}
