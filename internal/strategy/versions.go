package strategy

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	npm "github.com/aquasecurity/go-npm-version/pkg"
	pep440 "github.com/aquasecurity/go-pep440-version"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

// minimalFixedVersion picks the smallest fixed version greater than the
// currently installed one, using the ecosystem's own ordering rules. When
// current is empty the smallest fixed version wins.
func minimalFixedVersion(eco apv.Ecosystem, current string, fixed []string) (string, error) {
	if len(fixed) == 0 {
		return "", fmt.Errorf("no fixed versions")
	}

	less, err := comparatorFor(eco)
	if err != nil {
		return "", err
	}

	candidates := make([]string, len(fixed))
	copy(candidates, fixed)
	sort.Slice(candidates, func(i, j int) bool {
		ok, err := less(candidates[i], candidates[j])
		if err != nil {
			// Unparseable versions sort last.
			return false
		}
		return ok
	})

	if current == "" {
		return candidates[0], nil
	}
	for _, c := range candidates {
		greater, err := less(current, c)
		if err != nil {
			return "", fmt.Errorf("comparing %q with %q: %w", current, c, err)
		}
		if greater {
			return c, nil
		}
	}
	return "", fmt.Errorf("no fixed version exceeds installed %s", current)
}

// comparatorFor returns a strict less-than for the ecosystem's versioning
// scheme: PEP 440 for PyPI, npm semver ranges for npm, semver for the rest.
func comparatorFor(eco apv.Ecosystem) (func(a, b string) (bool, error), error) {
	switch eco {
	case apv.EcosystemPyPI:
		return func(a, b string) (bool, error) {
			va, err := pep440.Parse(a)
			if err != nil {
				return false, err
			}
			vb, err := pep440.Parse(b)
			if err != nil {
				return false, err
			}
			return va.LessThan(vb), nil
		}, nil
	case apv.EcosystemNPM:
		return func(a, b string) (bool, error) {
			va, err := npm.NewVersion(a)
			if err != nil {
				return false, err
			}
			vb, err := npm.NewVersion(b)
			if err != nil {
				return false, err
			}
			return va.LessThan(vb), nil
		}, nil
	case apv.EcosystemGo, apv.EcosystemMaven:
		return semverLess, nil
	default:
		return semverLess, nil
	}
}

func semverLess(a, b string) (bool, error) {
	va, err := semver.NewVersion(a)
	if err != nil {
		return false, err
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return false, err
	}
	return va.LessThan(vb), nil
}
