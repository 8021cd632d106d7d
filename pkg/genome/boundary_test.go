package genome

import (
	"testing"

	"genomeforge/testutil"
)

func TestGenomeStaysSelfContained(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.AnyOf(
		testutil.InternalImportForbidden,
		testutil.ImportPrefixForbidden("genomeforge/pkg/domain"),
	), "pkg/genome is the leaf model shared by every layer")
}
