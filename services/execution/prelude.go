package execution

import (
	"encoding/base64"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SafeName keeps file names to a flat, shell-free alphabet.
func SafeName(name string) string {
	name = unsafeName.ReplaceAllString(path.Base(name), "_")
	if name == "" || name == "." || name == ".." {
		return "data.csv"
	}
	return name
}

// DataFramePrelude loads the first CSV file into df so generated code can
// use it without reading the file itself.
func DataFramePrelude(files []NamedFile) string {
	for _, f := range files {
		name := SafeName(f.Name)
		if strings.HasSuffix(strings.ToLower(name), ".csv") {
			return fmt.Sprintf("import pandas as pd\ndf = pd.read_csv(%s)\n\n", strconv.Quote(name))
		}
	}
	return ""
}

// InlineFilesPreamble writes files to the working directory from base64
// literals, for backends that only accept source text.
func InlineFilesPreamble(files []NamedFile) string {
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("import base64\nimport os\n\n")
	for _, f := range files {
		name := SafeName(f.Name)
		encoded := base64.StdEncoding.EncodeToString([]byte(f.Content))
		fmt.Fprintf(&b, "# Write provided file: %s\n", name)
		fmt.Fprintf(&b, "with open(%s, \"w\", encoding=\"utf-8\") as _tmp:\n    _tmp.write(base64.b64decode(\"%s\").decode(\"utf-8\"))\n\n",
			strconv.Quote(name), encoded)
	}
	return b.String()
}
