package pricing

import (
	"strings"

	"github.com/tidwall/gjson"
)

// maxTreeDepth 遍历深度上限,超过后不再深入子树
const maxTreeDepth = 64

// FindProduct 在API响应树中查找商品节点
//
// 遍历规则: 深度优先、先序、按字段在文档中出现的顺序。
// 对象自身的 ProductId 字段(键名忽略大小写)与 productID 相等(忽略大小写)即为匹配,
// 返回第一个匹配的节点; 之后出现的同ID节点被忽略。
func FindProduct(doc gjson.Result, productID string) (gjson.Result, bool) {
	return visit(doc, 0, func(node gjson.Result) bool {
		if !node.IsObject() {
			return false
		}
		id := lookupKey(node, "ProductId")
		return id.Type == gjson.String && strings.EqualFold(id.Str, productID)
	})
}

func visit(node gjson.Result, depth int, match func(gjson.Result) bool) (gjson.Result, bool) {
	if depth > maxTreeDepth {
		return gjson.Result{}, false
	}
	if match(node) {
		return node, true
	}
	if !node.IsObject() && !node.IsArray() {
		return gjson.Result{}, false
	}

	var found gjson.Result
	ok := false
	node.ForEach(func(_, child gjson.Result) bool {
		if !child.IsObject() && !child.IsArray() {
			return true
		}
		found, ok = visit(child, depth+1, match)
		return !ok
	})
	return found, ok
}

// lookupKey 读取对象的直接字段,键名忽略大小写
func lookupKey(obj gjson.Result, key string) gjson.Result {
	var out gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if strings.EqualFold(k.Str, key) {
			out = v
			return false
		}
		return true
	})
	return out
}

func isScalar(v gjson.Result) bool {
	return v.Exists() && v.Type != gjson.JSON && v.Type != gjson.Null
}

// findScalar 在子树中查找第一个名为key的标量字段,遍历规则同 FindProduct
func findScalar(node gjson.Result, key string) gjson.Result {
	owner, ok := visit(node, 0, func(n gjson.Result) bool {
		return n.IsObject() && isScalar(lookupKey(n, key))
	})
	if !ok {
		return gjson.Result{}
	}
	return lookupKey(owner, key)
}

// hasCatalogPrice 对象自身带有 MSRP 或 ListPrice 标量
func hasCatalogPrice(n gjson.Result) bool {
	return n.IsObject() && (isScalar(lookupKey(n, "MSRP")) || isScalar(lookupKey(n, "ListPrice")))
}

// isPricedAvailability 带有 Actions 数组且子树中有价格的对象
func isPricedAvailability(n gjson.Result) bool {
	if !n.IsObject() || !lookupKey(n, "Actions").IsArray() {
		return false
	}
	_, ok := visit(n, 0, hasCatalogPrice)
	return ok
}

// findStrings 在子树中查找第一个名为key的数组字段,返回其中的字符串元素
func findStrings(node gjson.Result, key string) []string {
	owner, ok := visit(node, 0, func(n gjson.Result) bool {
		return n.IsObject() && lookupKey(n, key).IsArray()
	})
	if !ok {
		return nil
	}

	var out []string
	for _, item := range lookupKey(owner, key).Array() {
		if item.Type == gjson.String && item.Str != "" {
			out = append(out, item.Str)
		}
	}
	return out
}
