// internal/di/container.go
// Package di 维护进程内的服务注册表。
// 生成流水线的服务之间存在固定的依赖顺序（存储→检索→各生成环节→编排），
// 统一从容器取用避免了包级单例的初始化顺序问题，
// 测试也可以在装配前注入替身服务
package di

import (
	"sort"
	"sync"
)

// Container 以名称索引的服务注册表，读写并发安全
type Container struct {
	mu       sync.RWMutex
	services map[string]interface{}
}

var (
	global     *Container
	globalOnce sync.Once
)

// NewContainer 创建空容器
func NewContainer() *Container {
	return &Container{services: make(map[string]interface{})}
}

// GetContainer 返回进程级全局容器
func GetContainer() *Container {
	globalOnce.Do(func() {
		global = NewContainer()
	})
	return global
}

// Register 登记服务实例，同名覆盖
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = service
}

// Get 按名称取服务，未注册时返回nil。
// 调用方自行做类型断言，断言失败与未注册同样视为服务不可用
func (c *Container) Get(name string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.services[name]
}

// Has 查询服务是否已注册
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.services[name]
	return exists
}

// Remove 注销服务
func (c *Container) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, name)
}

// Clear 清空全部服务，仅测试使用
func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = make(map[string]interface{})
}

// GetNames 返回已注册服务名称，按字典序排列
func (c *Container) GetNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
