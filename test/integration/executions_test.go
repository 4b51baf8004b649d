package integration

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"testing"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/client"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
)

func TestExecuteSuccess(t *testing.T) {
	ctx := context.Background()
	c := testEnv.Client(acmeKey)
	sid := sessionName(t)

	res, err := c.Execute(ctx, pythonRequest(sid, "print('hello')\nresult = 2 + 2"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != api.StatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Message)
	}
	if res.StdoutLog != "hello\n" {
		t.Errorf("stdout = %q", res.StdoutLog)
	}
	if res.StructuredValue == nil || res.StructuredValue.Kind != api.ValueKindScalar {
		t.Errorf("value = %+v", res.StructuredValue)
	}
	if res.SessionID != sid || !api.ValidateExecutionID(res.ExecutionID) {
		t.Errorf("ids = %q / %q", res.SessionID, res.ExecutionID)
	}
}

func TestExecutePolicyRejected(t *testing.T) {
	ctx := context.Background()
	c := testEnv.Client(acmeKey)

	res, err := c.Execute(ctx, pythonRequest(sessionName(t), "import os\nos.system('id')"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != api.StatusPolicyRejected {
		t.Fatalf("status = %s, want policy_rejected", res.Status)
	}
	if res.Policy == nil || len(res.Policy.Violations) == 0 || res.Policy.Violations[0].Symbol != "os.system" {
		t.Errorf("policy = %+v", res.Policy)
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1 for code that never ran", res.ExitCode)
	}
}

func TestExecuteRuntimeError(t *testing.T) {
	ctx := context.Background()
	c := testEnv.Client(acmeKey)

	res, err := c.Execute(ctx, pythonRequest(sessionName(t), "raise ValueError('bad input')"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != api.StatusRuntimeError || res.ExitCode != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.StructuredValue == nil || res.StructuredValue.Error == nil || res.StructuredValue.Error.Type != "ValueError" {
		t.Errorf("error detail = %+v", res.StructuredValue)
	}
}

func TestExecuteInvalidRequest(t *testing.T) {
	ctx := context.Background()
	c := testEnv.Client(acmeKey)

	_, err := c.Execute(ctx, &api.ExecutionRequest{Runtime: "julia", SourceCode: "1", SessionID: sessionName(t)})
	var ce *client.Error
	if !errors.As(err, &ce) || ce.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestArtifactDownload(t *testing.T) {
	ctx := context.Background()
	c := testEnv.Client(acmeKey)
	sid := sessionName(t)

	res, err := c.Execute(ctx, pythonRequest(sid, "make_chart()\nresult = 1"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != api.StatusSuccess || len(res.Artifacts) != 1 {
		t.Fatalf("result = %+v", res)
	}
	ref := res.Artifacts[0]
	if ref.Name != "chart.png" || ref.Category != api.CategoryChart || !ref.Materialized {
		t.Errorf("artifact = %+v", ref)
	}

	a, err := c.Artifact(ctx, sid, ref.ID)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	body, _ := io.ReadAll(a.Body)
	a.Body.Close()
	if string(body) != "\x89PNG chart" || a.ContentType != "image/png" {
		t.Errorf("download = %q (%s)", body, a.ContentType)
	}

	if err := c.RevokeArtifact(ctx, sid, ref.ID); err != nil {
		t.Fatalf("RevokeArtifact: %v", err)
	}
	if _, err := c.Artifact(ctx, sid, ref.ID); err == nil {
		t.Error("revoked artifact is still served")
	}
}

func TestInstallAndRetry(t *testing.T) {
	ctx := context.Background()
	c := testEnv.Client(acmeKey)

	req := pythonRequest(sessionName(t), "import seaborn\nresult = 1")
	req.AllowInstall = true
	res, err := c.Execute(ctx, req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != api.StatusSuccess || !res.Recovered {
		t.Fatalf("result = %+v", res)
	}
	if !slices.Contains(testEnv.Process.Installs(), "seaborn") {
		t.Errorf("installs = %v", testEnv.Process.Installs())
	}
}

func TestInstallRequiresScope(t *testing.T) {
	ctx := context.Background()
	c := testEnv.Client(globexKey)

	req := pythonRequest(sessionName(t), "import networkx\nresult = 1")
	req.AllowInstall = true
	res, err := c.Execute(ctx, req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != api.StatusRuntimeError || res.Recovered {
		t.Fatalf("result = %+v, want an unrecovered runtime_error", res)
	}
	if slices.Contains(testEnv.Process.Installs(), "networkx") {
		t.Error("package installed for a caller without the install scope")
	}
}

func TestHistoryAndSessionDelete(t *testing.T) {
	ctx := context.Background()
	c := testEnv.Client(acmeKey)
	sid := sessionName(t)

	var ids []string
	for range 3 {
		res, err := c.Execute(ctx, pythonRequest(sid, "result = 4"))
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		ids = append(ids, res.ExecutionID)
	}

	page, err := c.History(ctx, sid, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Data) != 2 || !page.HasMore || page.Data[0].ExecutionID != ids[0] {
		t.Fatalf("page = %+v", page)
	}
	page, err = c.History(ctx, sid, storage.ListOptions{After: page.LastID})
	if err != nil {
		t.Fatalf("History after: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].ExecutionID != ids[2] {
		t.Errorf("second page = %+v", page)
	}

	info, err := c.Session(ctx, sid)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if info.ActiveExecutionCount != 0 || info.MaxConcurrentExecutions != 2 {
		t.Errorf("info = %+v", info)
	}

	if err := c.DeleteSession(ctx, sid); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	var ce *client.Error
	if _, err := c.Session(ctx, sid); !errors.As(err, &ce) || ce.StatusCode != http.StatusNotFound {
		t.Errorf("deleted session err = %v, want 404", err)
	}
}

func TestCancelUnknownExecution(t *testing.T) {
	err := testEnv.Client(acmeKey).Cancel(context.Background(), "exec_doesnotexist")
	var ce *client.Error
	if !errors.As(err, &ce) || ce.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v, want 404", err)
	}
}

func TestRuntimes(t *testing.T) {
	all, err := testEnv.Client(acmeKey).Runtimes(context.Background())
	if err != nil {
		t.Fatalf("Runtimes: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("runtimes = %+v", all)
	}
	for _, st := range all {
		if !st.Installed || st.Version == nil {
			t.Errorf("%s = %+v", st.Runtime, st)
		}
	}
}
