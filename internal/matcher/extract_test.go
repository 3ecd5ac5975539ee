package matcher_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ortelius/pdvd-depscan/internal/matcher"
	"github.com/ortelius/pdvd-depscan/model"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		spec      model.VersionSpec
		ecosystem model.Ecosystem
		want      model.ExactVersion
	}{
		{"pinned pypi", "==1.11", model.EcosystemPyPI, model.ExactVersion{Version: "1.11", Kind: model.VersionExact, Ecosystem: model.EcosystemPyPI}},
		{"arbitrary equality", "===1.0", model.EcosystemPyPI, model.ExactVersion{Version: "1.0", Kind: model.VersionExact, Ecosystem: model.EcosystemPyPI}},
		{"npm equals", "=6.0.2", model.EcosystemNPM, model.ExactVersion{Version: "6.0.2", Kind: model.VersionExact, Ecosystem: model.EcosystemNPM}},
		{"npm bare", "6.0.2", model.EcosystemNPM, model.ExactVersion{Version: "6.0.2", Kind: model.VersionExact, Ecosystem: model.EcosystemNPM}},
		{"go tag", "v1.2.3", model.EcosystemGo, model.ExactVersion{Version: "v1.2.3", Kind: model.VersionExact, Ecosystem: model.EcosystemGo}},
		{"bounded range", ">=5.4,<7.0", model.EcosystemPyPI, model.ExactVersion{Version: "5.4", Kind: model.VersionFloor, Ecosystem: model.EcosystemPyPI}},
		{"space after operator", ">= 1.0, < 2.0", model.EcosystemPyPI, model.ExactVersion{Version: "1.0", Kind: model.VersionFloor, Ecosystem: model.EcosystemPyPI}},
		{"caret", "^6.0", model.EcosystemNPM, model.ExactVersion{Version: "6.0", Kind: model.VersionFloor, Ecosystem: model.EcosystemNPM}},
		{"compatible release", "~=2.2", model.EcosystemPyPI, model.ExactVersion{Version: "2.2", Kind: model.VersionFloor, Ecosystem: model.EcosystemPyPI}},
		{"wildcard", "==1.2.*", model.EcosystemPyPI, model.ExactVersion{Version: "1.2", Kind: model.VersionFloor, Ecosystem: model.EcosystemPyPI}},
		{"npm hyphen range", "1.2.3 - 2.0.0", model.EcosystemNPM, model.ExactVersion{Version: "1.2.3", Kind: model.VersionFloor, Ecosystem: model.EcosystemNPM}},
		{"npm alternatives", "^1.0.0 || ^2.0.0", model.EcosystemNPM, model.ExactVersion{Version: "1.0.0", Kind: model.VersionFloor, Ecosystem: model.EcosystemNPM}},
		{"npm alternative without floor", "^2.0.0 || <1.0.0", model.EcosystemNPM, model.ExactVersion{Kind: model.VersionUnknown, Ecosystem: model.EcosystemNPM}},
		{"cargo bare is caret", "1.0", model.EcosystemCrates, model.ExactVersion{Version: "1.0", Kind: model.VersionFloor, Ecosystem: model.EcosystemCrates}},
		{"maven pinned", "[1.2.3]", model.EcosystemMaven, model.ExactVersion{Version: "1.2.3", Kind: model.VersionExact, Ecosystem: model.EcosystemMaven}},
		{"maven range", "[1.0,2.0)", model.EcosystemMaven, model.ExactVersion{Version: "1.0", Kind: model.VersionFloor, Ecosystem: model.EcosystemMaven}},
		{"maven upper only", "(,1.0]", model.EcosystemMaven, model.ExactVersion{Kind: model.VersionUnknown, Ecosystem: model.EcosystemMaven}},
		{"upper bound only", "<7.0", model.EcosystemPyPI, model.ExactVersion{Kind: model.VersionUnknown, Ecosystem: model.EcosystemPyPI}},
		{"exclusion only", "!=1.5", model.EcosystemPyPI, model.ExactVersion{Kind: model.VersionUnknown, Ecosystem: model.EcosystemPyPI}},
		{"empty", "", model.EcosystemPyPI, model.ExactVersion{Kind: model.VersionUnknown, Ecosystem: model.EcosystemPyPI}},
		{"star", "*", model.EcosystemNPM, model.ExactVersion{Kind: model.VersionUnknown, Ecosystem: model.EcosystemNPM}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matcher.Extract(tt.spec, tt.ecosystem)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract(%q). (-expected +got):\n%s", tt.spec, diff)
			}
		})
	}
}
