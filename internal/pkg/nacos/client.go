// internal/pkg/nacos/client.go
package nacos

import (
	"net"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Client 封装了 Nacos 的命名客户端和配置客户端
type Client struct {
	namingClient naming_client.INamingClient
	configClient config_client.IConfigClient

	namespaceID string
	groupName   string
}

// NewClient 创建并返回一个新的 Nacos 客户端，addrs 格式为 "ip1:port1,ip2:port2"
func NewClient(addrs, namespaceID, groupName string) (*Client, error) {
	if namespaceID == "" {
		log.Warn().Msg("nacos namespace is not set, using the public namespace")
	}
	if groupName == "" {
		groupName = "DEFAULT_GROUP"
	}

	serverConfigs, err := ParseServerConfigs(addrs)
	if err != nil {
		return nil, err
	}
	clientConfig := *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceID),
	)
	param := vo.NacosClientParam{ClientConfig: &clientConfig, ServerConfigs: serverConfigs}

	namingClient, err := clients.NewNamingClient(param)
	if err != nil {
		return nil, errors.Wrap(err, "create nacos naming client")
	}
	configClient, err := clients.NewConfigClient(param)
	if err != nil {
		namingClient.CloseClient()
		return nil, errors.Wrap(err, "create nacos config client")
	}

	log.Info().Str("addrs", addrs).Str("namespace", namespaceID).Msg("connected to nacos")
	return &Client{
		namingClient: namingClient,
		configClient: configClient,
		namespaceID:  namespaceID,
		groupName:    groupName,
	}, nil
}

// ParseServerConfigs 解析 "ip1:port1,ip2:port2"
func ParseServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid nacos address %q", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid port in nacos address %q", addr)
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(host, port))
	}
	if len(serverConfigs) == 0 {
		return nil, errors.New("no nacos server address configured")
	}
	return serverConfigs, nil
}

// RegisterServiceInstance 注册一个临时实例，心跳断开后会自动摘除
func (c *Client) RegisterServiceInstance(serviceName, ip string, port int) error {
	success, err := c.namingClient.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		GroupName:   c.groupName,
	})
	if err != nil {
		return errors.Wrap(err, "register service with nacos")
	}
	if !success {
		return errors.Errorf("nacos registration was not successful for service %s", serviceName)
	}
	log.Info().Str("service", serviceName).Str("ip", ip).Int("port", port).Msg("service registered to nacos")
	return nil
}

// DeregisterServiceInstance 从 Nacos 注销实例
func (c *Client) DeregisterServiceInstance(serviceName, ip string, port int) error {
	_, err := c.namingClient.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Ephemeral:   true,
		GroupName:   c.groupName,
	})
	if err != nil {
		return errors.Wrap(err, "deregister service from nacos")
	}
	log.Info().Str("service", serviceName).Msg("service deregistered from nacos")
	return nil
}

// GetConfig 读取配置中心中的文档
func (c *Client) GetConfig(dataID string) (string, error) {
	content, err := c.configClient.GetConfig(vo.ConfigParam{DataId: dataID, Group: c.groupName})
	if err != nil {
		return "", errors.Wrapf(err, "get nacos config %s", dataID)
	}
	return content, nil
}

// ListenConfig 在文档变化时回调 onChange，回调在 SDK 的 goroutine 中执行
func (c *Client) ListenConfig(dataID string, onChange func(content string)) error {
	err := c.configClient.ListenConfig(vo.ConfigParam{
		DataId: dataID,
		Group:  c.groupName,
		OnChange: func(namespace, group, dataID, data string) {
			log.Info().Str("data_id", dataID).Str("group", group).Msg("nacos config changed")
			onChange(data)
		},
	})
	return errors.Wrapf(err, "listen nacos config %s", dataID)
}

func (c *Client) Close() {
	c.configClient.CloseClient()
	c.namingClient.CloseClient()
}

// OutboundIP 返回本机访问外网时使用的地址，用于服务注册。UDP 拨号不会真正发包。
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.Wrap(err, "detect outbound ip")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
