// Package notion writes client workbooks to Notion over its REST API.
//
// A Client provisions one workbook page per client record, caches the page
// id in the registry and appends block trees to it in batches. When Notion
// reports the cached page as archived or missing, a replacement page is
// created once and the failing batch is resent.
package notion
