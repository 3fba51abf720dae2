// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client provides a wrapper around the Kubernetes client-go library.
//
// This package simplifies Kubernetes client creation and exposes the narrow
// list/get/watch/patch boundary the mirroring engine consumes for each
// tracked resource kind.
package client

import (
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"ci-capacity/pkg/k8s/types"
)

// Client wraps a Kubernetes clientset with additional utilities.
type Client struct {
	clientset kubernetes.Interface
}

// Config contains configuration options for creating a Kubernetes client.
type Config struct {
	// Kubeconfig path for out-of-cluster configuration.
	// If empty, uses in-cluster configuration.
	Kubeconfig string

	// QPS and Burst tune client-side rate limiting. Zero keeps client-go defaults.
	QPS   float32
	Burst int
}

// New creates a new Kubernetes client with the provided configuration.
//
// If Config.Kubeconfig is empty, uses in-cluster configuration.
//
// Example:
//
//	// In-cluster client
//	client, err := client.New(client.Config{})
//
//	// Out-of-cluster client
//	client, err := client.New(client.Config{
//	    Kubeconfig: "/path/to/kubeconfig",
//	})
func New(cfg Config) (*Client, error) {
	var restConfig *rest.Config
	var err error

	if cfg.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, &ClientError{
				Operation: "build kubeconfig",
				Err:       err,
			}
		}
	} else {
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, &ClientError{
				Operation: "get in-cluster config",
				Err:       err,
			}
		}
	}

	if cfg.QPS > 0 {
		restConfig.QPS = cfg.QPS
	}
	if cfg.Burst > 0 {
		restConfig.Burst = cfg.Burst
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, &ClientError{
			Operation: "create clientset",
			Err:       err,
		}
	}

	return &Client{
		clientset: clientset,
	}, nil
}

// NewFromClientset creates a Client from an existing Kubernetes clientset.
// This is useful for testing with fake clients.
func NewFromClientset(clientset kubernetes.Interface) *Client {
	return &Client{
		clientset: clientset,
	}
}

// Clientset returns the underlying Kubernetes clientset.
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}

// Nodes returns the resource boundary for cluster nodes.
func (c *Client) Nodes() ResourceAPI[types.NodeRecord] {
	return newNodeAPI(c.clientset)
}

// Pods returns the resource boundary for pods.
func (c *Client) Pods() ResourceAPI[types.PodRecord] {
	return newPodAPI(c.clientset)
}

// ConfigMaps returns the resource boundary for ConfigMaps.
func (c *Client) ConfigMaps() ResourceAPI[types.ConfigRecord] {
	return newConfigMapAPI(c.clientset)
}

// Deployments returns the resource boundary for deployments.
func (c *Client) Deployments() ResourceAPI[types.DeploymentRecord] {
	return newDeploymentAPI(c.clientset)
}
