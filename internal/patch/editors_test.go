package patch

import (
	"strings"
	"testing"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func depOp(opType, file, pkg, version string) *model.FixOperation {
	details := map[string]any{"package": pkg}
	if version != "" {
		details["version"] = version
	}
	return &model.FixOperation{Type: opType, File: file, Details: details}
}

func TestEditRequirements_Append(t *testing.T) {
	out, err := editRequirements("flask==3.0.0\npytest==8.0.0\n", "requests", "2.32.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "flask==3.0.0\npytest==8.0.0\nrequests==2.32.3\n" {
		t.Fatalf("got %q", out)
	}
}

func TestEditRequirements_UpdateInPlace(t *testing.T) {
	out, err := editRequirements("flask==3.0.0\nRequests>=2.0\npytest==8.0.0\n", "requests", "2.32.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "flask==3.0.0\nrequests==2.32.3\npytest==8.0.0\n" {
		t.Fatalf("got %q", out)
	}
}

func TestEditRequirements_NormalizedNameMatch(t *testing.T) {
	out, err := editRequirements("typing_extensions==4.0.0\n", "typing-extensions", "4.12.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "typing-extensions==4.12.0\n" {
		t.Fatalf("got %q", out)
	}
}

func TestEditRequirements_EmptyFile(t *testing.T) {
	out, err := editRequirements("", "requests", "")
	if err != nil || out != "requests\n" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestEditPackageJSON_Insert(t *testing.T) {
	in := `{
  "name": "app",
  "dependencies": {
    "express": "^4.18.0"
  }
}
`
	out, handled, err := editPackageJSON(in, "lodash", "4.17.21")
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "\"lodash\": \"4.17.21\",") {
		t.Fatalf("got %q", out)
	}
	if !strings.Contains(out, "\"express\": \"^4.18.0\"") {
		t.Fatalf("existing entry damaged: %q", out)
	}
}

func TestEditPackageJSON_Update(t *testing.T) {
	in := `{"dependencies": {"lodash": "4.0.0"}, "devDependencies": {"lodash": "1.0.0"}}`
	out, handled, err := editPackageJSON(in, "lodash", "4.17.21")
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, `"dependencies": {"lodash": "4.17.21"}`) {
		t.Fatalf("got %q", out)
	}
	if !strings.Contains(out, `"devDependencies": {"lodash": "1.0.0"}`) {
		t.Fatalf("devDependencies must stay untouched: %q", out)
	}
}

func TestEditPackageJSON_NoBlockRoutesToModel(t *testing.T) {
	_, handled, err := editPackageJSON(`{"name": "app"}`, "lodash", "4.17.21")
	if err != nil || handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
}

func TestEditPyproject_PoetryUpsert(t *testing.T) {
	in := `[tool.poetry]
name = "app"

[tool.poetry.dependencies]
python = "^3.11"
flask = "^3.0"

[tool.poetry.dev-dependencies]
pytest = "^8.0"
`
	out, handled, err := editPyproject(in, "requests", "2.32.3")
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "flask = \"^3.0\"\nrequests = \"2.32.3\"\n") {
		t.Fatalf("append position wrong:\n%s", out)
	}

	out, handled, err = editPyproject(out, "flask", "3.0.3")
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "flask = \"3.0.3\"") {
		t.Fatalf("update failed:\n%s", out)
	}
}

func TestEditPyproject_PEP621Array(t *testing.T) {
	in := `[project]
name = "app"
dependencies = [
    "flask>=3.0",
]
`
	out, handled, err := editPyproject(in, "requests", "2.32.3")
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "    \"requests==2.32.3\",\n]") {
		t.Fatalf("got:\n%s", out)
	}

	out, handled, err = editPyproject(out, "flask", "3.0.3")
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "\"flask==3.0.3\",") || strings.Contains(out, "flask>=3.0") {
		t.Fatalf("update failed:\n%s", out)
	}
}

func TestEditPomXML_InsertAndUpdate(t *testing.T) {
	in := `<project>
  <dependencies>
    <dependency>
      <groupId>org.slf4j</groupId>
      <artifactId>slf4j-api</artifactId>
      <version>1.7.36</version>
    </dependency>
  </dependencies>
</project>
`
	out, handled, err := editPomXML(in, "com.google.guava:guava", "33.0.0-jre")
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "<artifactId>guava</artifactId>") || !strings.Contains(out, "<version>33.0.0-jre</version>") {
		t.Fatalf("insert failed:\n%s", out)
	}
	if !strings.Contains(out, "    </dependency>\n  </dependencies>") {
		t.Fatalf("indentation broken:\n%s", out)
	}

	out, handled, err = editPomXML(out, "org.slf4j:slf4j-api", "2.0.13")
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "<version>2.0.13</version>") {
		t.Fatalf("update failed:\n%s", out)
	}
	if strings.Contains(out, "1.7.36") {
		t.Fatalf("old version left behind:\n%s", out)
	}
}

func TestEditDependency_GoMod(t *testing.T) {
	in := "module example.com/app\n\ngo 1.22\n\nrequire (\n\tgithub.com/a/b v1.0.0\n)\n"
	out, handled, err := editDependency("go.mod", in, depOp(model.OpAddDependency, "go.mod", "github.com/c/d", "2.1.0"))
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "github.com/c/d v2.1.0") {
		t.Fatalf("got:\n%s", out)
	}
}

func TestEditDependency_UnknownManifestRoutesToModel(t *testing.T) {
	_, handled, err := editDependency("Gemfile", "", depOp(model.OpAddDependency, "Gemfile", "rails", "7.0"))
	if err != nil || handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
}

func TestEditDependency_MissingPackageDetail(t *testing.T) {
	op := &model.FixOperation{Type: model.OpAddDependency, File: "requirements.txt", Details: map[string]any{}}
	if _, _, err := editDependency("requirements.txt", "", op); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRemovePythonImport(t *testing.T) {
	in := "import os\nimport sys, json\nfrom typing import List, Dict\n\nprint(os.getcwd())\n"

	out, handled, err := removeUnusedImport("app.py", in, &model.FixOperation{
		Type: model.OpRemoveUnused, File: "app.py", Details: map[string]any{"import": "json"},
	})
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "import sys\n") || strings.Contains(out, "json") {
		t.Fatalf("got:\n%s", out)
	}

	out, handled, err = removeUnusedImport("app.py", in, &model.FixOperation{
		Type: model.OpRemoveUnused, File: "app.py", Details: map[string]any{"import": "Dict"},
	})
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "from typing import List\n") {
		t.Fatalf("got:\n%s", out)
	}

	out, handled, err = removeUnusedImport("app.py", in, &model.FixOperation{
		Type: model.OpRemoveUnused, File: "app.py", Details: map[string]any{"import": "typing"},
	})
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if strings.Contains(out, "typing") {
		t.Fatalf("got:\n%s", out)
	}
}

func TestRemoveGoImport(t *testing.T) {
	in := "package main\n\nimport (\n\t\"fmt\"\n\t\"os\"\n\n\tlog \"github.com/sirupsen/logrus\"\n)\n"

	out, handled, err := removeUnusedImport("main.go", in, &model.FixOperation{
		Type: model.OpRemoveUnused, File: "main.go", Details: map[string]any{"import": "os"},
	})
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if strings.Contains(out, "\"os\"") || !strings.Contains(out, "\"fmt\"") {
		t.Fatalf("got:\n%s", out)
	}

	out, handled, err = removeUnusedImport("main.go", in, &model.FixOperation{
		Type: model.OpRemoveUnused, File: "main.go", Details: map[string]any{"import": "log"},
	})
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if strings.Contains(out, "logrus") {
		t.Fatalf("aliased import not removed:\n%s", out)
	}
}

func TestRemoveJSImport(t *testing.T) {
	in := "import React from 'react';\nimport { useState, useEffect } from 'react';\nconst _ = require('lodash');\n"

	out, handled, err := removeUnusedImport("app.ts", in, &model.FixOperation{
		Type: model.OpRemoveUnused, File: "app.ts", Details: map[string]any{"import": "useEffect"},
	})
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if !strings.Contains(out, "import { useState } from 'react';") {
		t.Fatalf("got:\n%s", out)
	}

	out, handled, err = removeUnusedImport("app.ts", in, &model.FixOperation{
		Type: model.OpRemoveUnused, File: "app.ts", Details: map[string]any{"import": "lodash"},
	})
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if strings.Contains(out, "lodash") {
		t.Fatalf("require not removed:\n%s", out)
	}
}

func TestRemoveImport_NotFoundRoutesToModel(t *testing.T) {
	_, handled, err := removeUnusedImport("app.py", "import os\n", &model.FixOperation{
		Type: model.OpRemoveUnused, File: "app.py", Details: map[string]any{"import": "missing"},
	})
	if err != nil || handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
}
