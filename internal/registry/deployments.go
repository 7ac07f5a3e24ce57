package registry

import (
	"context"
	"fmt"
	"os"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"
)

// databaseNamePlaceholder is substituted with a database's name when
// rendering the deployment template.
const databaseNamePlaceholder = "{{.DatabaseName}}"

// DeploymentSet is the per-database tile-service deployment view. It
// mirrors the original engine's execute_kube_sync_deployments: one
// deployment per ready database, created from a shared template and
// parameterized only by name.
type DeploymentSet interface {
	EnsureFor(ctx context.Context, db ManagedDatabase) error
	RemoveFor(ctx context.Context, db ManagedDatabase) error
	ExistsFor(ctx context.Context, db ManagedDatabase) (bool, error)
	List(ctx context.Context) ([]string, error)
}

// k8sDeploymentSet implements DeploymentSet against the real Kubernetes
// API via the typed apps/v1 clientset.
type k8sDeploymentSet struct {
	client    kubernetes.Interface
	namespace string
	template  []byte
	labelKey  string
}

// NewDeploymentSet creates a DeploymentSet from a Deployment template
// file. The template's raw bytes are kept as-is and the database-name
// placeholder is substituted per call, rather than parsed once into an
// object and mutated, so the template can reference the name in any
// field (labels, env vars, container args).
func NewDeploymentSet(client kubernetes.Interface, namespace, templatePath string) (DeploymentSet, error) {
	body, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("read deployment template: %w", err)
	}

	return &k8sDeploymentSet{
		client:    client,
		namespace: namespace,
		template:  body,
		labelKey:  "geoingest.io/database",
	}, nil
}

func (s *k8sDeploymentSet) render(dbName string) (*appsv1.Deployment, error) {
	rendered := strings.ReplaceAll(string(s.template), databaseNamePlaceholder, dbName)

	var dep appsv1.Deployment
	if err := yaml.Unmarshal([]byte(rendered), &dep); err != nil {
		return nil, fmt.Errorf("parse rendered deployment template: %w", err)
	}

	if dep.Labels == nil {
		dep.Labels = map[string]string{}
	}
	dep.Labels[s.labelKey] = dbName

	return &dep, nil
}

// EnsureFor creates the deployment for db if it doesn't already exist.
// Creation failures are returned to the caller (the syncer), which logs
// and retries next cycle rather than treating this as fatal.
func (s *k8sDeploymentSet) EnsureFor(ctx context.Context, db ManagedDatabase) error {
	exists, err := s.ExistsFor(ctx, db)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	dep, err := s.render(db.Name)
	if err != nil {
		return err
	}

	_, err = s.client.AppsV1().Deployments(s.namespace).Create(ctx, dep, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create deployment for %s: %w", db.Name, err)
	}
	return nil
}

// RemoveFor deletes the deployment for db, if any. A not-found error is
// not surfaced -- the deployment is already gone, which is the desired
// end state.
func (s *k8sDeploymentSet) RemoveFor(ctx context.Context, db ManagedDatabase) error {
	err := s.client.AppsV1().Deployments(s.namespace).Delete(ctx, deploymentName(db.Name), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete deployment for %s: %w", db.Name, err)
	}
	return nil
}

// ExistsFor reports whether a deployment for db currently exists.
func (s *k8sDeploymentSet) ExistsFor(ctx context.Context, db ManagedDatabase) (bool, error) {
	_, err := s.client.AppsV1().Deployments(s.namespace).Get(ctx, deploymentName(db.Name), metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get deployment for %s: %w", db.Name, err)
	}
	return true, nil
}

// List enumerates the database names that currently have a deployment,
// identified by the geoingest.io/database label this set attaches on
// creation.
func (s *k8sDeploymentSet) List(ctx context.Context) ([]string, error) {
	list, err := s.client.AppsV1().Deployments(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: s.labelKey,
	})
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}

	names := make([]string, 0, len(list.Items))
	for _, dep := range list.Items {
		if name, ok := dep.Labels[s.labelKey]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func deploymentName(dbName string) string {
	return "tile-service-" + dbName
}
