package cluster

import (
	"fmt"
	"net/http"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
)

// Cluster bundles the clients used against one API server.
type Cluster struct {
	config *rest.Config
	disco  discovery.CachedDiscoveryInterface
	mapper meta.RESTMapper
	dyn    dynamic.Interface
	kube   kubernetes.Interface
}

// LoadConfig resolves a rest config from kubeconfig and context using the
// standard loading rules. Empty values select the defaults.
func LoadConfig(kubeconfig, context string) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	rules.ExplicitPath = kubeconfig
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		rules,
		&clientcmd.ConfigOverrides{CurrentContext: context},
	).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("client config: %w", err)
	}
	return cfg, nil
}

// New creates the clients for cfg: a memory-cached discovery client, a
// dynamic RESTMapper that rediscovers on misses, and dynamic and typed clients.
func New(cfg *rest.Config) (*Cluster, error) {
	cfg = rest.CopyConfig(cfg)
	cfg = rest.AddUserAgent(cfg, "kw")

	httpClient, err := rest.HTTPClientFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}
	return newForHTTPClient(cfg, httpClient)
}

func newForHTTPClient(cfg *rest.Config, httpClient *http.Client) (*Cluster, error) {
	dc, err := discovery.NewDiscoveryClientForConfigAndClient(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("discovery client: %w", err)
	}
	mapper, err := apiutil.NewDynamicRESTMapper(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("build rest mapper: %w", err)
	}
	dyn, err := dynamic.NewForConfigAndClient(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("dynamic client: %w", err)
	}
	kube, err := kubernetes.NewForConfigAndClient(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return &Cluster{
		config: cfg,
		disco:  memory.NewMemCacheClient(dc),
		mapper: mapper,
		dyn:    dyn,
		kube:   kube,
	}, nil
}

func (c *Cluster) Config() *rest.Config                          { return c.config }
func (c *Cluster) Discovery() discovery.CachedDiscoveryInterface { return c.disco }
func (c *Cluster) RESTMapper() meta.RESTMapper                   { return c.mapper }
func (c *Cluster) Dynamic() dynamic.Interface                    { return c.dyn }
func (c *Cluster) Kubernetes() kubernetes.Interface              { return c.kube }

// Host returns the API server URL, used to key per-cluster caches.
func (c *Cluster) Host() string { return c.config.Host }

func (c *Cluster) Deleter() *Deleter {
	return &Deleter{Client: c.dyn, Mapper: c.mapper}
}

func (c *Cluster) LogStreamer() *LogStreamer {
	return &LogStreamer{Client: c.kube}
}

func (c *Cluster) PortForwarder() *PortForwarder {
	return &PortForwarder{Config: c.config, Client: c.kube}
}
