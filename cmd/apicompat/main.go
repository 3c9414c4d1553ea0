// Command apicompat checks the generated API description against a saved
// baseline so that changes never break shipped mobile clients.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"cuisine/docs"

	"gopkg.in/yaml.v3"
)

var httpMethods = map[string]struct{}{
	"get":    {},
	"put":    {},
	"post":   {},
	"delete": {},
	"patch":  {},
}

type operation struct {
	Responses map[string]struct{}
	Required  map[string]struct{}
}

type contract struct {
	Paths map[string]map[string]operation
}

func main() {
	baseline := flag.String("baseline", "api-baseline.yaml", "saved API description clients were built against")
	write := flag.Bool("write", false, "overwrite the baseline with the current API description")
	flag.Parse()

	current := []byte(docs.SwaggerInfo.ReadDoc())

	if *write {
		if err := writeBaseline(*baseline, current); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write baseline: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("baseline written to %s\n", *baseline)
		return
	}

	// #nosec G304: path comes from CLI flags in a dev tool
	raw, err := os.ReadFile(*baseline)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read baseline: %v\n", err)
		os.Exit(1)
	}
	base, err := parseContract(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid baseline: %v\n", err)
		os.Exit(1)
	}
	revision, err := parseContract(current)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid generated docs: %v\n", err)
		os.Exit(1)
	}

	if issues := breakingChanges(base, revision); len(issues) > 0 {
		fmt.Fprintln(os.Stderr, "API compatibility check failed:")
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "- %s\n", issue)
		}
		os.Exit(1)
	}
	fmt.Println("API compatibility check passed")
}

// writeBaseline stores doc as YAML, which diffs better than the generated JSON.
func writeBaseline(path string, doc []byte) error {
	var tree map[string]any
	if err := yaml.Unmarshal(doc, &tree); err != nil {
		return err
	}
	out, err := yaml.Marshal(tree)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// parseContract reads the paths section of a swagger document. JSON input
// parses as YAML.
func parseContract(raw []byte) (contract, error) {
	var doc struct {
		Paths map[string]map[string]struct {
			Parameters []struct {
				Name     string `yaml:"name"`
				In       string `yaml:"in"`
				Required bool   `yaml:"required"`
			} `yaml:"parameters"`
			Responses map[string]any `yaml:"responses"`
		} `yaml:"paths"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return contract{}, err
	}
	if doc.Paths == nil {
		return contract{}, errors.New("missing top-level paths field")
	}

	c := contract{Paths: make(map[string]map[string]operation, len(doc.Paths))}
	for path, methods := range doc.Paths {
		ops := make(map[string]operation)
		for method, entry := range methods {
			method = strings.ToLower(strings.TrimSpace(method))
			if _, ok := httpMethods[method]; !ok {
				continue
			}
			op := operation{
				Responses: make(map[string]struct{}, len(entry.Responses)),
				Required:  make(map[string]struct{}),
			}
			for code := range entry.Responses {
				op.Responses[strings.TrimSpace(code)] = struct{}{}
			}
			for _, p := range entry.Parameters {
				if p.Required {
					op.Required[p.In+":"+p.Name] = struct{}{}
				}
			}
			ops[method] = op
		}
		if len(ops) > 0 {
			c.Paths[path] = ops
		}
	}
	return c, nil
}

// breakingChanges lists removals and new required inputs in revision.
func breakingChanges(base, revision contract) []string {
	var issues []string

	for path, baseOps := range base.Paths {
		revOps, ok := revision.Paths[path]
		if !ok {
			issues = append(issues, fmt.Sprintf("removed path: %s", path))
			continue
		}

		for method, baseOp := range baseOps {
			name := strings.ToUpper(method) + " " + path
			revOp, ok := revOps[method]
			if !ok {
				issues = append(issues, "removed operation: "+name)
				continue
			}
			for code := range baseOp.Responses {
				if _, ok := revOp.Responses[code]; !ok {
					issues = append(issues, fmt.Sprintf("removed response code: %s -> %s", name, code))
				}
			}
			for param := range revOp.Required {
				if _, ok := baseOp.Required[param]; !ok {
					issues = append(issues, fmt.Sprintf("new required parameter: %s -> %s", name, param))
				}
			}
		}
	}

	sort.Strings(issues)
	return issues
}
