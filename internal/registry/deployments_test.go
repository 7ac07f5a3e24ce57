package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"
)

const testDeploymentTemplate = `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: tile-service-{{.DatabaseName}}
  namespace: fleet
spec:
  replicas: 1
  selector:
    matchLabels:
      app: tile-service-{{.DatabaseName}}
  template:
    metadata:
      labels:
        app: tile-service-{{.DatabaseName}}
    spec:
      containers:
      - name: tile-service
        image: geofleet/tile-service:latest
        env:
        - name: DATABASE_NAME
          value: "{{.DatabaseName}}"
`

func writeTemplate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "deployment-template.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDeploymentTemplate), 0o644))
	return path
}

func TestDeploymentSet_EnsureAndExists(t *testing.T) {
	templatePath := writeTemplate(t)
	client := fake.NewSimpleClientset()

	set, err := NewDeploymentSet(client, "fleet", templatePath)
	require.NoError(t, err)

	db := ManagedDatabase{Name: "seattle"}

	exists, err := set.ExistsFor(context.Background(), db)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, set.EnsureFor(context.Background(), db))

	exists, err = set.ExistsFor(context.Background(), db)
	require.NoError(t, err)
	assert.True(t, exists)

	// Ensuring again is idempotent: no duplicate-create error.
	require.NoError(t, set.EnsureFor(context.Background(), db))
}

func TestDeploymentSet_RemoveFor(t *testing.T) {
	templatePath := writeTemplate(t)
	client := fake.NewSimpleClientset()

	set, err := NewDeploymentSet(client, "fleet", templatePath)
	require.NoError(t, err)

	db := ManagedDatabase{Name: "portland"}
	require.NoError(t, set.EnsureFor(context.Background(), db))

	require.NoError(t, set.RemoveFor(context.Background(), db))

	exists, err := set.ExistsFor(context.Background(), db)
	require.NoError(t, err)
	assert.False(t, exists)

	// Removing something already gone is not an error.
	require.NoError(t, set.RemoveFor(context.Background(), db))
}

func TestDeploymentSet_List(t *testing.T) {
	templatePath := writeTemplate(t)
	client := fake.NewSimpleClientset()

	set, err := NewDeploymentSet(client, "fleet", templatePath)
	require.NoError(t, err)

	require.NoError(t, set.EnsureFor(context.Background(), ManagedDatabase{Name: "seattle"}))
	require.NoError(t, set.EnsureFor(context.Background(), ManagedDatabase{Name: "portland"}))

	names, err := set.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"seattle", "portland"}, names)
}
