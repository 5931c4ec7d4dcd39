// Package crawlers 提供浏览器会话和商店链接解析
//
// # 概述
//
// Session 基于go-rod,在持久化的浏览器配置目录上启动一个浏览器,
// 整个运行期间复用同一个标签页,Cookie和登录态因此保持不变。
// 浏览器崩溃(rod panic或连接断开)统一转换为 models.ErrBrowserCrashed,
// 调用方可以通过 Restart 在同一配置目录上重启,连续崩溃最多重启3次,
// 每成功处理一个条目后调用 Healthy 重新计数。内存不足时用 Recycle 重启,不计入崩溃次数。
//
//	session := NewSession(SessionConfig{ProfileDir: "user-data", SettleDelay: 2 * time.Second})
//	if err := session.Start(); err != nil {
//	    return err
//	}
//	defer session.Close()
//
// # 链接解析
//
// BrowserLinkResolver 打开成就页面,等待网络空闲后查询详情区域中的商店链接:
//
//	dd > a[href*='microsoft.com/store/apps/']
//
// StaticLinkResolver 使用colly直接解析服务端渲染的HTML,不需要浏览器。
// 两者都只取第一个匹配的链接; 没有匹配不是错误,返回空的 StoreResolution。
//
// # 资源监控
//
// ResourceMonitor 使用gopsutil采集内存和CPU,每次写入批次时记录一次快照,
// 可用内存低于安全保留值时建议重启浏览器。
package crawlers
